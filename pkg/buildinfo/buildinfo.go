package buildinfo

// Version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X github.com/paulschiretz/pgl-mirror/pkg/buildinfo.Version=1.0.0"
var Version = "dev"

// Name is the canonical name of the application used for logging.
var Name = "PGL-Mirror"

// BinaryName is the name of the executable and the prefix used for
// host-visible resources such as lock files and environment variables.
var BinaryName = "pgl-mirror"
