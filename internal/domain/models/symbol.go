package models

import "strings"

// CanonicalSymbol normalizes a ticker to its canonical uppercase form.
// Applying it twice yields the same result.
func CanonicalSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CanonicalSymbols normalizes, deduplicates and optionally caps a symbol
// list, preserving first-seen order. Empty entries are dropped. A max of 0
// means no cap.
func CanonicalSymbols(symbols []string, max int) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		c := CanonicalSymbol(s)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// SplitSymbolList parses a comma-separated symbol parameter.
func SplitSymbolList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
