package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/arbiterhq/arbiter/pkg/errors"
)

// CheckConfigCompatibility checks whether a config file's declared schema
// version can be read by this build.
//
// Compatibility rules:
//   - "main" (development build) skips the check
//   - Major versions must match exactly
//   - The config's minor version must not exceed the build's minor version
//     (a newer config may use fields this build does not understand)
func CheckConfigCompatibility(configVersion string) error {
	configVersion = strings.TrimPrefix(configVersion, "v")
	buildVersion := strings.TrimPrefix(ConfigSchemaVersion, "v")

	if configVersion == "main" || buildVersion == "main" {
		return nil
	}

	configSemver, err := semver.NewVersion(configVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid config schema version %q", configVersion)
	}

	buildSemver, err := semver.NewVersion(buildVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid build schema version %q", buildVersion)
	}

	if configSemver.Major() != buildSemver.Major() {
		return errors.Newf(errors.ErrCodeInvalidVersion,
			"config schema major version mismatch: build reads %d.x but config declares %d.x",
			buildSemver.Major(), configSemver.Major())
	}

	if configSemver.Minor() > buildSemver.Minor() {
		return errors.Newf(errors.ErrCodeInvalidVersion,
			"config schema %s is newer than this build understands (%s)",
			configVersion, buildVersion)
	}

	return nil
}
