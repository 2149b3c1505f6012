package cli

import "strings"

// SignalBars renders a 0..100 signal strength as a four-step bar gauge.
func SignalBars(strength byte) string {
	steps := int(strength) * 4 / 100
	if strength > 0 && steps == 0 {
		steps = 1
	}
	if steps > 4 {
		steps = 4
	}
	return strings.Repeat("▂", steps) + strings.Repeat("·", 4-steps)
}

// Mark renders a boolean as a checkmark column.
func Mark(v bool) string {
	if v {
		return "✓"
	}
	return ""
}

// Dash substitutes a dash for empty values.
func Dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
