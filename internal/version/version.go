// ABOUTME: Version constants for muzicynk
// ABOUTME: Single source of truth for version and product identity
package version

const (
	// Version is the current release version
	Version = "0.1.0"

	// Product is the product name reported by all binaries
	Product = "muzicynk"

	// Manufacturer identifies the project
	Manufacturer = "muzicynk project"
)
