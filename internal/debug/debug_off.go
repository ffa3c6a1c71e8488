//go:build !debug

// Package debug provides a centralized, categorized debug logging system.
// This is the no-op version for release builds.
package debug

// Enabled indicates whether debug logging is active
const Enabled = false

// Category represents a debug logging category
type Category string

const (
	APP          Category = "APP"
	STATE        Category = "STATE"
	BRIDGE       Category = "BRIDGE"
	OPS          Category = "OPS"
	TRANSFER     Category = "TRANSFER"
	UI           Category = "UI"
	BRIDGE_FRAME Category = "BRIDGE_FRAME"
	UI_EVENT     Category = "UI_EVENT"
)

// Log is a no-op in release builds
func Log(cat Category, format string, args ...interface{}) {}

// Enable is a no-op in release builds
func Enable(cat Category) {}

// Disable is a no-op in release builds
func Disable(cat Category) {}

// IsEnabled always returns false in release builds
func IsEnabled(cat Category) bool { return false }

// EnableAll is a no-op in release builds
func EnableAll() {}

// DisableAll is a no-op in release builds
func DisableAll() {}
