//go:build !windows

package swiftypes

// GUID is a portable representation of a Globally Unique Identifier.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}
