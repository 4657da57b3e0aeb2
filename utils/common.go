package utils

// BreakdownTol is the magnitude below which Krylov recurrences stop
const BreakdownTol = 1.e-300

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
