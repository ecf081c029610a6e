package fmt

import (
	"fmt"
	"strings"
)

// SprintFloat formats value with at most decimal places, dropping trailing zeros.
func SprintFloat(value float64, decimal uint) string {
	if decimal == 0 {
		return fmt.Sprintf("%.0f", value)
	}
	s := fmt.Sprintf("%.*f", int(decimal), value)
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}
