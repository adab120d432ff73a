// ABOUTME: Build and product identification
// ABOUTME: Reported in logs, the status line and the mDNS TXT record
package version

// Version is overridden at build time with -ldflags "-X ...version.Version=...".
var Version = "dev"

const (
	Product      = "Clock Radio Audio Engine"
	Manufacturer = "Resonate"
)

// String returns "<product> <version>".
func String() string {
	return Product + " " + Version
}
