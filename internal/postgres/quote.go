package postgres

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidIdent reports whether name is a plain PostgreSQL identifier. Database
// and role names arriving from the API must pass this before any remote
// statement is built from them.
func ValidIdent(name string) bool {
	return name != "" && len(name) <= 63 && identPattern.MatchString(name)
}

// quoteIdent renders name as a safely quoted SQL identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// shellQuote renders s as a single-quoted shell word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// sedReplacement escapes s for use as the replacement text of a sed s|||
// expression: backslashes, ampersands and the | delimiter are special there.
func sedReplacement(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "&", `\&`)
	return strings.ReplaceAll(s, "|", `\|`)
}

// sanitizeCredential strips embedded newlines and carriage returns from a
// credential value before it is written into a remote env file. A pasted key
// with a trailing newline would otherwise inject config lines.
func sanitizeCredential(v string) string {
	v = strings.ReplaceAll(v, "\r", "")
	v = strings.ReplaceAll(v, "\n", "")
	return strings.TrimSpace(v)
}

// envLine renders one export line for the WAL-G env file.
func envLine(key, value string) string {
	return fmt.Sprintf("export %s=%s", key, shellQuote(sanitizeCredential(value)))
}
