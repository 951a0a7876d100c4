package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MinPlatformVersion is the oldest platform the patch job supports.
const MinPlatformVersion = 13

// Platform is a target platform version and its API level.
type Platform struct {
	Version  string
	APILevel string
}

// PlatformFromVersion parses a platform version such as "15" and derives the
// API level. Versions below MinPlatformVersion are rejected.
func PlatformFromVersion(version string) (Platform, error) {
	v, err := strconv.Atoi(strings.TrimSpace(version))
	if err != nil {
		return Platform{}, fmt.Errorf("platform version %q is not a number", version)
	}
	if v < MinPlatformVersion {
		return Platform{}, fmt.Errorf("platform version %d is below the minimum %d", v, MinPlatformVersion)
	}
	return Platform{Version: strconv.Itoa(v), APILevel: strconv.Itoa(v + 20)}, nil
}

// PlatformFromAPILevel maps an API level such as "35" back to its platform.
func PlatformFromAPILevel(level string) (Platform, error) {
	n, err := strconv.Atoi(strings.TrimSpace(level))
	if err != nil {
		return Platform{}, fmt.Errorf("api level %q is not a number", level)
	}
	return PlatformFromVersion(strconv.Itoa(n - 20))
}

func (p Platform) String() string {
	return fmt.Sprintf("Android %s (API %s)", p.Version, p.APILevel)
}
