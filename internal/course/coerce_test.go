package course

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, []string{}},
		{"empty string", "  ", []string{}},
		{"single string", " AI ", []string{"AI"}},
		{"list of strings", []any{"Go", " Go ", "", "Rust"}, []string{"Go", "Rust"}},
		{"list of objects", []any{
			map[string]any{"name": "MIT"},
			map[string]any{"display_name": "Harvard", "logo": "x.png"},
			map[string]any{"logo": "y.png"},
		}, []string{"MIT", "Harvard"}},
		{"mixed list", []any{"IBM", map[string]any{"name": "IBM"}, nil, 3.0}, []string{"IBM"}},
		{"scalar number", 42.0, []string{"42"}},
		{"bool", true, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StringList(tt.in)
			assert.Equal(t, tt.want, got)
			for _, s := range got {
				assert.NotEmpty(t, s)
			}
		})
	}
}

func TestStringList_PreservesInsertionOrder(t *testing.T) {
	got := StringList([]any{"c", "a", "b", "a", "c"})
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestIntOr0(t *testing.T) {
	assert.Equal(t, 0, IntOr0(nil))
	assert.Equal(t, 7, IntOr0(7))
	assert.Equal(t, 7, IntOr0(7.9))
	assert.Equal(t, 1200, IntOr0("1200"))
	assert.Equal(t, 3, IntOr0("3.5"))
	assert.Equal(t, 0, IntOr0("many"))
	assert.Equal(t, 0, IntOr0(-5), "negative counts clamp to zero")
	assert.Equal(t, 0, IntOr0([]any{1}))
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "abc-123", IDString(" abc-123 "))
	assert.Equal(t, "59583", IDString(59583.0))
	assert.Equal(t, "7", IDString(7))
	assert.Equal(t, "", IDString(nil))
	assert.Equal(t, "", IDString(1.5))
}
