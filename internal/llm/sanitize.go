package llm

import "strings"

// SanitizeSQL recovers bare executable SQL from a raw completion. Models
// routinely wrap SQL in markdown code fences or surround it with prose;
// execution needs the statement alone.
//
// When the raw text contains a fenced block (with or without a language
// tag), only the fenced content is kept; otherwise the trimmed raw text
// is used verbatim. Sanitizing an already-clean string returns it
// unchanged, so the operation is idempotent. It never fails; absence of
// a fence simply falls through.
func SanitizeSQL(raw string) string {
	if idx := strings.Index(raw, "```sql"); idx >= 0 {
		return fencedContent(raw[idx+len("```sql"):])
	}
	if idx := strings.Index(raw, "```"); idx >= 0 {
		return fencedContent(raw[idx+len("```"):])
	}
	return strings.TrimSpace(raw)
}

// fencedContent trims rest at the closing fence, if one exists.
func fencedContent(rest string) string {
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
