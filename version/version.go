package version

// Version is overridden at build time with -ldflags "-X stealerindex/version.Version=...".
var Version = "dev"
