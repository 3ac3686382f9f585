package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{strings.Repeat("word ", 100), 90, 110},
	}

	for _, tt := range tests {
		tokens := counter.CountTokens(tt.text)
		assert.GreaterOrEqual(t, tokens, tt.minTokens, "text %q", tt.text)
		assert.LessOrEqual(t, tokens, tt.maxTokens, "text %q", tt.text)
	}
}

func TestCountTokensNilCounter(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, 2, counter.CountTokens("12345678"))
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, "short", counter.TruncateToTokenLimit("short", 10))

	longText := strings.Repeat("This is a sentence. ", 50)
	truncated := counter.TruncateToTokenLimit(longText, 10)
	assert.Less(t, len(truncated), len(longText))
	assert.True(t, strings.HasSuffix(truncated, "..."))
	assert.LessOrEqual(t, counter.CountTokens(truncated), 15)
}

func TestTruncateToTokenLimitKeepsRunesWhole(t *testing.T) {
	var counter *TokenCounter
	text := "a" + strings.Repeat("é", 100)

	truncated := counter.TruncateToTokenLimit(text, 10)
	assert.True(t, utf8.ValidString(truncated))
	assert.Equal(t, "a"+strings.Repeat("é", 17)+"...", truncated)
}
