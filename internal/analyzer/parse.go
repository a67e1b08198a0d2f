package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled patterns for cleaning model output.
var (
	// Matches ```json\n{...}\n```, ```{...}```, ``` json{...}``` and friends.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// maxResponseSize bounds how much model output is parsed.
const maxResponseSize = 10 * 1024 * 1024

var errEmptyResponse = errors.New("empty response")

// parseResponse extracts a rawDigest from model output. It tries, in
// order: a direct parse, removing code fences, cleaning common JSON
// mistakes and finally extracting the first balanced object from mixed
// prose.
func parseResponse(text string) (*rawDigest, error) {
	if len(text) > maxResponseSize {
		return nil, fmt.Errorf("response exceeds size limit (%d > %d bytes)", len(text), maxResponseSize)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errEmptyResponse
	}

	candidates := []string{trimmed}
	if unfenced := removeCodeFences(trimmed); unfenced != trimmed {
		candidates = append(candidates, unfenced)
	}
	for _, c := range append([]string(nil), candidates...) {
		if cleaned := cleanupJSON(c); cleaned != c {
			candidates = append(candidates, cleaned)
		}
	}
	if extracted := extractJSONObject(trimmed); extracted != "" {
		candidates = append(candidates, extracted, cleanupJSON(extracted))
	}

	var firstErr error
	for _, c := range candidates {
		var raw rawDigest
		err := json.Unmarshal([]byte(c), &raw)
		if err == nil {
			return &raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("no JSON object found (%v); response starts with %q", firstErr, truncate(trimmed, 120))
}

// removeCodeFences strips markdown code fences.
func removeCodeFences(text string) string {
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
			cleaned = m[1]
		}
	}
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON fixes trailing commas, unquoted keys and comments. Single
// quotes are left alone since converting them would break apostrophes
// inside valid strings.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSONObject returns the first balanced {...} in text, honouring
// string literals and escapes, or "" if there is none.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			ch := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
