package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/aclsync/internal/rule"
	"grimm.is/aclsync/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default), "warning"
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsWarning reports whether the problem still lets the config load.
func (e ValidationError) IsWarning() bool {
	return e.Severity == "warning"
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there is any error that is not a warning.
func (e ValidationErrors) HasErrors() bool {
	for _, err := range e {
		if !err.IsWarning() {
			return true
		}
	}
	return false
}

// Warnings returns only the warnings.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			out = append(out, err)
		}
	}
	return out
}

func errorf(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: "error"}
}

func warnf(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: "warning"}
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateDaemon()...)
	errs = append(errs, c.validateRuleGroups()...)
	errs = append(errs, c.validateInterfaces()...)
	return errs
}

func (c *Config) validateDaemon() ValidationErrors {
	var errs ValidationErrors

	if v, err := ParseVersion(c.SchemaVersion); err != nil {
		errs = append(errs, errorf("schema_version", "%v", err))
	} else if !IsSupportedVersion(v) {
		errs = append(errs, errorf("schema_version", "unsupported version %s", v))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, errorf("log_level", "unknown level %q", c.LogLevel))
	}
	if c.LogFormat != "" {
		if err := validation.ValidateAllowlist(c.LogFormat, []string{"console", "json"}); err != nil {
			errs = append(errs, errorf("log_format", "%v", err))
		}
	}
	if c.Backend != "" {
		if err := validation.ValidateAllowlist(c.Backend, []string{BackendNFTables, BackendMemory}); err != nil {
			errs = append(errs, errorf("backend", "%v", err))
		}
	}
	if c.NFTTable != "" {
		if err := validation.ValidateIdentifier(c.NFTTable); err != nil {
			errs = append(errs, errorf("nft_table", "%v", err))
		}
	}

	if c.API != nil && c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			errs = append(errs, errorf("api.listen", "invalid address %q: %v", c.API.Listen, err))
		}
	}
	if c.API != nil && (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		errs = append(errs, errorf("api", "tls_cert and tls_key must be set together"))
	}
	if c.Metrics != nil && c.Metrics.Interval != "" {
		if d, err := time.ParseDuration(c.Metrics.Interval); err != nil || d <= 0 {
			errs = append(errs, errorf("metrics.interval", "invalid duration %q", c.Metrics.Interval))
		}
	}
	return errs
}

func (c *Config) validateRuleGroups() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i := range c.RuleGroups {
		g := &c.RuleGroups[i]
		field := fmt.Sprintf("rule_group[%d]", i)
		if g.Name == "" {
			errs = append(errs, errorf(field, "name is required"))
			continue
		}
		field = "rule_group." + g.Name
		if seen[g.Name] {
			errs = append(errs, errorf(field, "defined more than once"))
			continue
		}
		seen[g.Name] = true
		if err := validation.ValidateIdentifier(g.Name); err != nil {
			errs = append(errs, errorf(field, "%v", err))
			continue
		}

		if g.Attributes == nil {
			errs = append(errs, warnf(field, "no attributes block, the group will never be published"))
		} else if fam, err := rule.ParseFamily(g.Attributes.Family); err == nil && fam == rule.FamilyNone {
			errs = append(errs, warnf(field+".attributes", "no family, the group will never be published"))
		}
		if _, err := g.Compile(); err != nil {
			errs = append(errs, errorf(field, "%v", err))
		}
	}
	return errs
}

func (c *Config) validateInterfaces() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)

	for i := range c.Interfaces {
		ifc := &c.Interfaces[i]
		field := fmt.Sprintf("interface[%d]", i)
		if ifc.Name == "" {
			errs = append(errs, errorf(field, "name is required"))
			continue
		}
		field = "interface." + ifc.Name
		if seen[ifc.Name] {
			errs = append(errs, errorf(field, "defined more than once"))
			continue
		}
		seen[ifc.Name] = true
		if err := validation.ValidateInterfaceName(ifc.Name); err != nil {
			errs = append(errs, errorf(field, "%v", err))
			continue
		}

		for _, list := range []struct {
			dir    string
			groups []string
		}{{"ingress", ifc.Ingress}, {"egress", ifc.Egress}} {
			dir := list.dir
			attached := make(map[string]bool)
			for _, name := range list.groups {
				if attached[name] {
					errs = append(errs, errorf(field+"."+dir, "group %s attached twice", name))
					continue
				}
				attached[name] = true
				if c.FindRuleGroup(name) == nil {
					errs = append(errs, warnf(field+"."+dir, "group %s is not defined", name))
				}
			}
		}
	}
	return errs
}
