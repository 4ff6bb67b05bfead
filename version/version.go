// Package version exists solely so that we can store the version of this
// application in one location.
//
// The main.go driver-package prints it in the usage text.
package version

import "fmt"

var (
	// version is populated with our release tag at build time.
	version = "unreleased"
)

// GetVersionBanner returns a banner which is suitable for printing, to show
// our name and version.
func GetVersionBanner() string {

	str := fmt.Sprintf("cpmrun %s\n%s\n", version, "https://github.com/cpmrun/cpmrun/")
	return str
}

// GetVersionString returns our version number as a string.
func GetVersionString() string {
	return version
}
