// Package version carries the build version, stamped at link time with
//
//	-ldflags "-X github.com/HerbHall/netatlas/internal/version.Version=v1.2.3"
package version

// Version is the semantic version of this build. "dev" builds bypass the
// database schema version gate.
var Version = "dev"
