package version

// version is set at build time with
// -ldflags "-X github.com/cbodonnell/sessionkeeper/pkg/version.version=v1.2.3"
var version = "dev"

func Get() string {
	return version
}
