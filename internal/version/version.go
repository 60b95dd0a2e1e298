package version

// Set at build time with -ldflags "-X safevision/internal/version.VERSION=..."
var (
	VERSION = "dev"
	COMMIT  = "unknown"
)
