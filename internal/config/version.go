package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion represents a semantic version for config schemas
type SchemaVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a version string like "1.0". Empty means 1.0.
func ParseVersion(s string) (SchemaVersion, error) {
	if s == "" {
		return SchemaVersion{Major: 1, Minor: 0}, nil
	}

	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SchemaVersion{}, fmt.Errorf("invalid version format: %s (expected X.Y)", s)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid major version: %s", parts[0])
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("invalid minor version: %s", parts[1])
	}

	return SchemaVersion{Major: major, Minor: minor}, nil
}

func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsSupportedVersion reports whether this build can load configs of v.
func IsSupportedVersion(v SchemaVersion) bool {
	cur, _ := ParseVersion(CurrentSchemaVersion)
	return v.Major == cur.Major && v.Minor <= cur.Minor
}
