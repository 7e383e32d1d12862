package market

import (
	"fmt"
	"strings"
)

const maxSymbolLen = 12

// NormalizeSymbol uppercases and validates a ticker or index symbol.
// "BRK/B" style share classes become "BRK.B", index symbols keep their '^'
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrInvalidSymbol)
	}
	if len(s) > maxSymbolLen {
		return "", fmt.Errorf("%w: %q too long", ErrInvalidSymbol, s)
	}

	s = strings.ReplaceAll(s, "/", ".")
	for i, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-':
			if i == 0 {
				return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
			}
		case c == '^' && i == 0:
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
		}
	}
	if s == "^" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return s, nil
}

// NormalizeSymbols normalizes a list, dropping duplicates and keeping first-seen order
func NormalizeSymbols(symbols []string) ([]string, error) {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		s, err := NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
