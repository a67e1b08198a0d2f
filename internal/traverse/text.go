package traverse

import (
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// printableThreshold is the share of printable bytes a sample needs to be
// considered text.
const printableThreshold = 0.7

// sampleSize is how many leading bytes the text heuristic inspects.
const sampleSize = 8192

var textExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".cc": true, ".h": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".swift": true, ".kt": true, ".scala": true,
	".sh": true, ".bash": true, ".zsh": true, ".sql": true, ".r": true, ".m": true,
	".cs": true, ".fs": true, ".hs": true, ".elm": true, ".erl": true, ".ex": true,
	".clj": true, ".lua": true, ".vim": true, ".pl": true, ".txt": true, ".md": true,
	".rst": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true, ".xml": true, ".html": true, ".css": true, ".scss": true,
	".sass": true, ".less": true, ".proto": true, ".thrift": true, ".graphql": true,
	".vue": true, ".svelte": true, ".mod": true, ".sum": true, ".env": true,
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".7z": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".o": true,
	".class": true, ".jar": true, ".pyc": true, ".wasm": true, ".db": true, ".sqlite": true,
	".woff": true, ".woff2": true, ".ttf": true, ".mp3": true, ".mp4": true, ".mov": true,
}

// IsLikelyText decides whether a file holds text, trying in turn the
// extension, the MIME type registered for the extension and finally the
// share of printable bytes in sample. A nil sample with no other signal is
// not text.
func IsLikelyText(name string, sample []byte) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if textExtensions[ext] {
		return true
	}
	if binaryExtensions[ext] {
		return false
	}
	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			if strings.HasPrefix(mt, "text/") ||
				strings.Contains(mt, "json") ||
				strings.Contains(mt, "xml") ||
				strings.Contains(mt, "javascript") {
				return true
			}
			if strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/") {
				return false
			}
		}
	}
	if sample == nil {
		return false
	}
	return looksPrintable(sample)
}

// looksPrintable reports whether at least 70% of the sample is printable.
// Any NUL byte marks the sample as binary.
func looksPrintable(sample []byte) bool {
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	if len(sample) == 0 {
		return true
	}
	printable := 0
	for _, b := range sample {
		switch {
		case b == 0:
			return false
		case b == '\n' || b == '\r' || b == '\t' || b == '\f':
			printable++
		case b >= 0x20 && b < 0x7f:
			printable++
		case b >= 0x80:
			// UTF-8 continuation and lead bytes count as printable
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) >= printableThreshold
}

// preview returns at most n runes of content as valid UTF-8.
func preview(content []byte, n int) string {
	if n <= 0 || len(content) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(content), "�")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// countLines counts newline-terminated lines plus a trailing partial line.
func countLines(data []byte) int {
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}
	return lines
}

// DetectLanguage returns the programming language for a file name, or "".
func DetectLanguage(name string) string {
	return languageMap[strings.ToLower(filepath.Ext(name))]
}

var languageMap = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".c":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".h":     "C/C++ Header",
	".hpp":   "C++ Header",
	".rs":    "Rust",
	".rb":    "Ruby",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
	".scala": "Scala",
	".sh":    "Shell",
	".bash":  "Shell",
	".sql":   "SQL",
	".cs":    "C#",
	".lua":   "Lua",
	".md":    "Markdown",
	".json":  "JSON",
	".yaml":  "YAML",
	".yml":   "YAML",
	".toml":  "TOML",
	".html":  "HTML",
	".css":   "CSS",
	".proto": "Protobuf",
}
