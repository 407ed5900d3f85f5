package payment

import "fmt"

// MinorToMajor converts an amount in minor currency units (centavos) to its
// major-unit decimal representation. This is the single point where the division by
// 100 happens; integer arithmetic only, no floats.
func MinorToMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
