package openai

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// cleanJSONResponse strips markdown fences and surrounding prose from a
// model reply and repairs trailing commas, returning the best JSON object
// candidate. It never fails; the caller decides what an unparseable reply
// means.
func cleanJSONResponse(response string) string {
	response = removeMarkdownBlocks(response)
	response = extractJSONObject(response)

	var probe any
	if err := json.Unmarshal([]byte(response), &probe); err == nil {
		return response
	}
	return trailingCommaRe.ReplaceAllString(response, "$1")
}

func removeMarkdownBlocks(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// extractJSONObject returns the first balanced {...} span, tolerating prose
// before and after it.
func extractJSONObject(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return response
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return response[start:]
}
