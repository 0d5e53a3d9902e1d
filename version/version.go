package version

// Version is set at build time via -ldflags.
var (
	Version     = "dev"
	GitCommit   = "unknown"
	BuildDate   = "unknown"
	FullVersion = Version + " (" + GitCommit + ", " + BuildDate + ")"
)
