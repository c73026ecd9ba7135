package institutes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Springfield High", "springfield-high"},
		{"  St. Mary's -- Convent  ", "st-mary-s-convent"},
		{"Class 10 (A)", "class-10-a"},
		{"École Normale", "école-normale"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}

	long := Slugify(strings.Repeat("ab ", 40))
	assert.LessOrEqual(t, len([]rune(long)), maxSlugLen)
	assert.False(t, strings.HasSuffix(long, "-"))
}

func TestWithSuffix(t *testing.T) {
	a, b := withSuffix("physics"), withSuffix("physics")
	assert.True(t, strings.HasPrefix(a, "physics-"))
	assert.Len(t, a, len("physics-")+8)
	assert.NotEqual(t, a, b)
}
