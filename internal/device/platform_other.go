//go:build !unix

package device

func platform() string {
	return fallbackPlatform()
}
