package common

var (
	// VERSION is overridden at build time through ldflags.
	VERSION = "v0.1.0"
)
