package analyzer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/steveyegge/digin/internal/types"
)

// maxManifestSize bounds manifests read for dependency hints.
const maxManifestSize = 1 << 20

var requirementNameRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)

// manifestParsers map well-known manifest names to an extractor of
// external dependency names.
var manifestParsers = map[string]func([]byte) []string{
	"go.mod":           goModDependencies,
	"package.json":     packageJSONDependencies,
	"requirements.txt": requirementsDependencies,
}

// applyManifestHints merges dependencies declared in manifests found in
// dir into d. Models often miss or invent these; the manifest is ground
// truth.
func applyManifestHints(d *types.Digest, dir types.DirectoryNode) {
	var found []string
	for _, f := range dir.Files {
		parse, ok := manifestParsers[f.Name]
		if !ok || f.Size > maxManifestSize {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			continue
		}
		found = append(found, parse(data)...)
	}
	if len(found) == 0 {
		return
	}
	if d.Dependencies == nil {
		d.Dependencies = &types.Dependencies{}
	}
	d.Dependencies.External = sortedSet(append(d.Dependencies.External, found...))
}

func goModDependencies(data []byte) []string {
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil
	}
	var deps []string
	for _, r := range f.Require {
		if r.Indirect {
			continue
		}
		deps = append(deps, r.Mod.Path)
	}
	return deps
}

func packageJSONDependencies(data []byte) []string {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	var deps []string
	for name := range pkg.Dependencies {
		deps = append(deps, name)
	}
	for name := range pkg.DevDependencies {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps
}

func requirementsDependencies(data []byte) []string {
	var deps []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if m := requirementNameRegex.FindStringSubmatch(line); m != nil {
			deps = append(deps, m[1])
		}
	}
	return deps
}
