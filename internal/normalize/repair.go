package normalize

import "strings"

var unescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\t`, "\t",
	`\"`, `"`,
)

// Unescape reverses doubled escape sequences when code arrived as a single
// escaped line (literal \n sequences and no real newline).
func Unescape(code string) string {
	if strings.Contains(code, "\n") || !strings.Contains(code, `\n`) {
		return code
	}
	return unescaper.Replace(code)
}

// RepairBraces appends the closing braces missing from code and, when it
// had to, a trailing statement terminator. Balanced code is returned as is.
// This only counts braces; it can over-correct code that has braces inside
// string literals.
func RepairBraces(code string) string {
	missing := strings.Count(code, "{") - strings.Count(code, "}")
	if missing <= 0 {
		return code
	}
	repaired := strings.TrimRight(code, " \t\r\n") + strings.Repeat("}", missing)
	if strings.HasSuffix(repaired, "}") {
		repaired += ";"
	}
	return repaired
}
