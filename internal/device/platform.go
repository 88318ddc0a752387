package device

import "runtime"

func fallbackPlatform() string {
	return runtime.GOOS + " " + runtime.GOARCH
}
