//go:build unix

package device

import (
	"strings"

	"golang.org/x/sys/unix"
)

// platform returns "<sysname> <release> <machine>" from uname(2).
func platform() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return fallbackPlatform()
	}
	fields := []string{
		unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Release[:]),
		unix.ByteSliceToString(u.Machine[:]),
	}
	return strings.Join(fields, " ")
}
