package upsert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// quoteIdentifier quotes a SQL identifier with the given quote character,
// doubling any embedded quote.
func quoteIdentifier(name string, quote rune) (string, error) {
	if !isSafeIdentifier(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	q := string(quote)
	return q + strings.ReplaceAll(name, q, q+q) + q, nil
}

// maxIdentifierLength is PostgreSQL's limit, the tightest of the supported
// stores.
const maxIdentifierLength = 63

// isSafeIdentifier accepts letters, digits and underscores, not starting
// with a digit.
func isSafeIdentifier(name string) bool {
	if name == "" || len(name) > maxIdentifierLength {
		return false
	}
	if first, _ := utf8.DecodeRuneInString(name); unicode.IsDigit(first) {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) < 0
}

// deriveIndexName names the unique index over keys of table. The name is
// case-insensitive in its inputs and ignores key order.
func deriveIndexName(table string, keys []string, suffix string) string {
	cols := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = strings.ToLower(k)
	}
	sort.Strings(cols)

	parts := append([]string{strings.ToLower(table)}, cols...)
	parts = append(parts, strings.ToLower(suffix))
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "ux_" + hex.EncodeToString(sum[:8])
}

// quoteAll quotes every name with d, reporting the first invalid one.
func quoteAll(d Dialect, names []string) ([]string, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		q, err := d.QuoteIdent(name)
		if err != nil {
			return nil, fmt.Errorf("column[%d]: %w", i, err)
		}
		quoted[i] = q
	}
	return quoted, nil
}

// placeholders returns n placeholders starting at position start.
func placeholders(d Dialect, start, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(start + i)
	}
	return out
}
