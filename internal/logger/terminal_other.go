//go:build !linux && !darwin && !windows

package logger

// Color is disabled where terminal detection is not implemented.
func isTerminal(uintptr) bool { return false }
