package roomcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		candidate string
		want      bool
	}{
		{"123456", true},
		{"000000", true},
		{"042917", true},
		{"12345", false},
		{"1234567", false},
		{"ABCDEF", false},
		{"12345a", false},
		{"", false},
		{" 12345", false},
		{"１２３４５６", false}, // 全角数字
	}

	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValid(tt.candidate))
		})
	}
}

func TestGenerate_AlwaysValid(t *testing.T) {
	t.Parallel()

	for range 10_000 {
		code := Generate()
		require.True(t, IsValid(code), "generated %q", code)
	}
}

func TestAllocate_NoCollisionsAmongActiveCodes(t *testing.T) {
	t.Parallel()

	active := make(map[string]struct{}, 10_000)
	reserve := func(code string) bool {
		if _, ok := active[code]; ok {
			return false
		}
		active[code] = struct{}{}
		return true
	}

	for range 10_000 {
		code, err := Allocate(reserve)
		require.NoError(t, err)
		require.True(t, IsValid(code))
	}
	assert.Len(t, active, 10_000)
}

func TestAllocate_RetriesOnCollision(t *testing.T) {
	t.Parallel()

	calls := 0
	code, err := Allocate(func(string) bool {
		calls++
		return calls == 3
	})
	require.NoError(t, err)
	assert.True(t, IsValid(code))
	assert.Equal(t, 3, calls)
}

func TestAllocate_Exhausted(t *testing.T) {
	t.Parallel()

	code, err := Allocate(func(string) bool { return false })
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Empty(t, code)
}
