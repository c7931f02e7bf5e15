package internal

import (
	"fmt"
	"runtime"
)

// Version is overridden at build time with
// -ldflags "-X workspacechat/internal.Version=v1.2.3".
var Version = "dev"

// VersionString is what the binaries print for -version.
func VersionString(binary string) string {
	return fmt.Sprintf("%s %s (%s/%s, %s)", binary, Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
