package watchwire

// Version is reported in the "version" member of every response the server
// sends and of [ErrorResponse].
const Version = "2025.1.1"

// BuildInfo is an optional suffix set at link time, e.g.
//
//	go build -ldflags "-X github.com/rrb3942/watchwire.BuildInfo=$(git rev-parse --short HEAD)"
var BuildInfo string

// FullVersion returns Version, followed by BuildInfo when one was linked in.
func FullVersion() string {
	if BuildInfo == "" {
		return Version
	}

	return Version + "+" + BuildInfo
}
