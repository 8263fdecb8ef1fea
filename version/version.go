// Package version exists solely so that we can store the version of this application
// in one location.
//
// The cmd/cpmcore driver reports it; HBIOS SYSVER reports its own hbios
// version constants, not this string.
package version

import "fmt"

var (
	// version is populated with our release tag, via a Github Action.
	//
	// See .github/build in the source distribution for details.
	version = "unreleased"
)

// GetVersionBanner returns a banner which is suitable for printing, to show our name,
// version, and homepage link.
func GetVersionBanner() string {

	str := fmt.Sprintf("cpmcore %s\n%s\n", version, "https://github.com/romwbw/cpmcore/")
	return str
}

// GetVersionString returns our version number as a string.
func GetVersionString() string {
	return version
}
