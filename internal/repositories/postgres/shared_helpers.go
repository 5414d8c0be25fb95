package postgres

import (
	"strings"
)

// toTextArray renders a postgres text[] literal for bind parameters
// cast with ::text[]. Tags are alphanumeric identifiers; quoting
// handles the occasional space or comma.
func toTextArray(values []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
