package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := &Config{
		RuleGroups: []RuleGroup{{
			Name:       "G1",
			Attributes: &Attributes{Family: "ipv4", Counters: "numbered"},
			Rules:      []Rule{{Index: "0", Action: "drop"}},
		}},
		Interfaces: []Interface{{Name: "eth0", Ingress: []string{"G1"}}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErrs int
		wantWarn int
	}{
		{"valid", func(*Config) {}, 0, 0},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, 1, 0},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, 1, 0},
		{"bad backend", func(c *Config) { c.Backend = "pcap" }, 1, 0},
		{"bad listen", func(c *Config) { c.API.Listen = "nowhere" }, 1, 0},
		{"tls cert without key", func(c *Config) { c.API.TLSCert = "/etc/aclsync/api.crt" }, 1, 0},
		{"tls pair", func(c *Config) { c.API.TLSCert, c.API.TLSKey = "a.crt", "a.key" }, 0, 0},
		{"bad interval", func(c *Config) { c.Metrics.Interval = "-1s" }, 1, 0},
		{"future schema", func(c *Config) { c.SchemaVersion = "2.0" }, 1, 0},
		{"group without name", func(c *Config) { c.RuleGroups = append(c.RuleGroups, RuleGroup{}) }, 1, 0},
		{"duplicate group", func(c *Config) { c.RuleGroups = append(c.RuleGroups, c.RuleGroups[0]) }, 1, 0},
		{"bad rule", func(c *Config) { c.RuleGroups[0].Rules[0].Action = "reject" }, 1, 0},
		{"no attributes", func(c *Config) { c.RuleGroups[0].Attributes = nil }, 0, 1},
		{"no family", func(c *Config) { c.RuleGroups[0].Attributes.Family = "" }, 0, 1},
		{"undefined group", func(c *Config) { c.Interfaces[0].Egress = []string{"G9"} }, 0, 1},
		{"attached twice", func(c *Config) { c.Interfaces[0].Ingress = []string{"G1", "G1"} }, 1, 0},
		{"duplicate interface", func(c *Config) { c.Interfaces = append(c.Interfaces, c.Interfaces[0]) }, 1, 0},
		{"bad group name", func(c *Config) { c.RuleGroups[0].Name = "G1:10"; c.Interfaces[0].Ingress = nil }, 1, 0},
		{"bad interface name", func(c *Config) { c.Interfaces[0].Name = "eth0;reboot" }, 1, 0},
		{"long interface name", func(c *Config) { c.Interfaces[0].Name = "averyveryverylongname" }, 1, 0},
		{"bad nft table", func(c *Config) { c.NFTTable = "acl sync" }, 1, 0},
		{"interface without name", func(c *Config) { c.Interfaces = append(c.Interfaces, Interface{}) }, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			warns := errs.Warnings()
			assert.Len(t, warns, tt.wantWarn, "warnings: %v", warns)
			assert.Len(t, errs, tt.wantErrs+tt.wantWarn, "errors: %v", errs)
			assert.Equal(t, tt.wantErrs > 0, errs.HasErrors())
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Empty(t, errs.Error())
	assert.False(t, errs.HasErrors())

	errs = append(errs, errorf("a", "one"), warnf("b", "two"))
	assert.Equal(t, "a: one; b: two", errs.Error())
	assert.True(t, errs.HasErrors())
	assert.Len(t, errs.Warnings(), 1)
}
