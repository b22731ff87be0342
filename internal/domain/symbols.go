package domain

import "strings"

// NormalizeSymbol maps a raw ticker string to its canonical form:
// uppercase, surrounding whitespace removed. The function is total and
// idempotent. An empty result is reported by ok=false and must be
// rejected by the caller, never silently included.
func NormalizeSymbol(s string) (string, bool) {
	n := strings.ToUpper(strings.TrimSpace(s))
	return n, n != ""
}

// NormalizeSymbols normalizes every element, drops empties, and
// deduplicates while preserving first-seen order.
func NormalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		n, ok := NormalizeSymbol(s)
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// SymbolSet builds a membership set from already-normalized symbols.
func SymbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}
