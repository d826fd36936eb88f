package server

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the server release.
const Version = "0.1.0"

// ApiVersion is the version of the HTTP API. Clients may send the version they
// were written against in ApiVersionHeader.
const ApiVersion = "1.0.0"

// ApiVersionHeader carries the API version a client expects.
const ApiVersionHeader = "X-Bookrelay-Api-Version"

// apiConstraint accepts any version with the same major version.
var apiConstraint *semver.Constraints

func init() {
	var err error
	apiConstraint, err = semver.NewConstraint("^" + ApiVersion)
	if err != nil {
		panic(err)
	}
}

// IsApiVersionCompatible reports whether a client written against version can
// talk to this server. Invalid version strings are incompatible.
func IsApiVersionCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return apiConstraint.Check(v)
}
