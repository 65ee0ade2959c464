package config

// Version is the application version, set at build time via
// -ldflags "-X github.com/halyard/halyard/internal/config.Version=...".
var Version = "dev"
