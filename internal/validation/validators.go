// Package validation checks names that end up in kernel objects.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Valid identifier: alphanumeric, dash, underscore
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// MaxIdentifierLen bounds rule group names. Numbered counter names are
// the group name plus ":<index>", and nftables caps object names at 255.
const MaxIdentifierLen = 240

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters): %s", name)
	}
	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %s (must be alphanumeric with -_.)", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid interface name: %s", name)
	}
	return nil
}

// ValidateIdentifier validates a rule group name.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > MaxIdentifierLen {
		return fmt.Errorf("identifier too long (max %d characters)", MaxIdentifierLen)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_)", id)
	}
	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("must be one of %s, got %q", strings.Join(allowed, ", "), value)
}
