package promptgen

import "strings"

// shellQuote produces a POSIX-shell-safe single-quoted form of s. The
// pack carries no dedicated shell-quoting library, so this follows the
// standard POSIX idiom directly: wrap in single quotes, and for every
// embedded single quote, close the quote, emit an escaped quote, and
// reopen it.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
