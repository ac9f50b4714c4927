package version

// Version is the current version of the arbiter agent.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/arbiterhq/arbiter/internal/version.Version=1.2.3"
// The default value "main" indicates a development build.
var Version = "v1.0.0"

// ConfigSchemaVersion is the configuration schema version this build reads.
// Config files declare their schema version; see CheckConfigCompatibility.
var ConfigSchemaVersion = "1.0.0"

// GetVersion returns the current version of the agent.
func GetVersion() string {
	return Version
}
