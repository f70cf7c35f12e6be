package common

// PackageName is used as the namespace for exported metrics and as the
// default service tag in logs.
const PackageName = "pin-realm"

// Version is set at build time via -ldflags.
var Version = "dev"
