package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "Jane Smith", "jane smith"},
		{"Emoji", "Jane 📚 Smith", "jane smith"},
		{"Punctuation", "O'Brien, Jane", "obrien jane"},
		{"ExtraWhitespace", "  Jane   Smith  ", "jane smith"},
		{"Empty", "", ""},
		{"OnlySymbols", "✨✨✨", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"LeadingAt", "@JaneReads", "janereads"},
		{"Underscore", "jane_reads", "jane_reads"},
		{"Hyphen", "jane-reads", "janereads"},
		{"Whitespace", " @jane ", "jane"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeHandle(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail(" Jane@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("  "))
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, NormalizeLocation("Portland, OR"), NormalizeLocation("portland or"))
}
