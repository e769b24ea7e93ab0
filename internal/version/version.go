// ABOUTME: Version and product identification
// ABOUTME: Reported by the version command and in the coordinator dashboard
package version

import "fmt"

const (
	Product      = "berkeley-go"
	Manufacturer = "Berkeley Sync Project"
)

// Version is overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.1.0"

// String returns the one-line identification
func String() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Manufacturer)
}
