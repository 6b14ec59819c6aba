// ABOUTME: Version information for timesync-go
// ABOUTME: Reported in server/hello and by the version command
package version

const (
	// Version is the current release.
	Version = "0.1.0"

	// Product is the product name sent to peers.
	Product = "timesync-go"

	// Manufacturer identifies the maintainers.
	Manufacturer = "Resonate"
)

// String renders the version line printed by the CLI.
func String() string {
	return Product + " " + Version
}
