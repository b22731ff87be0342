package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"lowercase", "spy", "SPY", true},
		{"mixed case with spaces", "  aApl ", "AAPL", true},
		{"already canonical", "QQQ", "QQQ", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"tab and newline", "\tnvda\n", "NVDA", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeSymbol(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNormalizeSymbolIdempotent(t *testing.T) {
	inputs := []string{"spy", "  AAPL ", "QqQ", "brk.b", "", "  ", "MSFT"}
	for _, in := range inputs {
		once, _ := NormalizeSymbol(in)
		twice, _ := NormalizeSymbol(once)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", in)
	}
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" spy", "SPY", "aapl", "", "  ", "QQQ", "aapl"})
	assert.Equal(t, []string{"SPY", "AAPL", "QQQ"}, got, "dedup preserves first-seen order, empties dropped")
}

func TestSymbolSet(t *testing.T) {
	set := SymbolSet([]string{"SPY", "QQQ"})
	_, hasSPY := set["SPY"]
	_, hasAAPL := set["AAPL"]
	assert.True(t, hasSPY)
	assert.False(t, hasAAPL)
}
