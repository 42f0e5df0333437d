//go:build windows

package swiftypes

import (
	"golang.org/x/sys/windows"
)

// GUID maps to the windows.GUID type.
type GUID windows.GUID
