package fmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSprintFloat(t *testing.T) {
	for _, tc := range []struct {
		value    float64
		decimal  uint
		expected string
	}{
		{215, 2, "215"},
		{215.5, 2, "215.5"},
		{1.234, 2, "1.23"},
		{3.7, 0, "4"},
	} {
		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, SprintFloat(tc.value, tc.decimal))
		})
	}
}
