package config

import "time"

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Backend names accepted by the backend setting.
const (
	BackendNFTables = "nftables"
	BackendMemory   = "memory"
)

// Config is the top-level structure for the daemon configuration.
type Config struct {
	// Schema version for backward compatibility. Empty means "1.0".
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	LogLevel  string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogFormat string `hcl:"log_format,optional" json:"log_format,omitempty"` // "console" or "json"

	Backend  string `hcl:"backend,optional" json:"backend,omitempty"`
	NFTTable string `hcl:"nft_table,optional" json:"nft_table,omitempty"`

	// StatePath is the transaction journal database. Empty keeps it in memory.
	StatePath string `hcl:"state_path,optional" json:"state_path,omitempty"`

	// NetNS names the network namespace whose links are monitored.
	NetNS string `hcl:"netns,optional" json:"netns,omitempty"`

	// RequireOffload holds an interface back until ethtool reports
	// hw-tc-offload on it.
	RequireOffload bool `hcl:"require_offload,optional" json:"require_offload,omitempty"`

	API     *APIConfig     `hcl:"api,block" json:"api,omitempty"`
	Metrics *MetricsConfig `hcl:"metrics,block" json:"metrics,omitempty"`

	RuleGroups []RuleGroup `hcl:"rule_group,block" json:"rule_groups"`
	Interfaces []Interface `hcl:"interface,block" json:"interfaces"`
}

// APIConfig configures the introspection API.
type APIConfig struct {
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
	APIKey string `hcl:"api_key,optional" json:"api_key,omitempty"`
	// TLSCert and TLSKey switch the API to HTTPS. A self-signed pair is
	// generated at these paths when the certificate does not exist.
	TLSCert string `hcl:"tls_cert,optional" json:"tls_cert,omitempty"`
	TLSKey  string `hcl:"tls_key,optional" json:"tls_key,omitempty"`
}

// TLSEnabled reports whether the API serves HTTPS.
func (a *APIConfig) TLSEnabled() bool {
	return a != nil && a.TLSCert != "" && a.TLSKey != ""
}

// MetricsConfig configures the counter collector.
type MetricsConfig struct {
	// Interval between counter reads, e.g. "15s".
	Interval string `hcl:"interval,optional" json:"interval,omitempty"`
}

// RuleGroup defines an ACL rule group.
type RuleGroup struct {
	Name       string      `hcl:"name,label" json:"name"`
	Attributes *Attributes `hcl:"attributes,block" json:"attributes,omitempty"`
	Rules      []Rule      `hcl:"rule,block" json:"rules"`
}

// Attributes is the attribute rule of a group. A group without one is
// never published.
type Attributes struct {
	Family      string `hcl:"family,optional" json:"family,omitempty"`
	Counters    string `hcl:"counters,optional" json:"counters,omitempty"` // "numbered" or "named"
	CountAccept bool   `hcl:"count_accept,optional" json:"count_accept,omitempty"`
	CountDrop   bool   `hcl:"count_drop,optional" json:"count_drop,omitempty"`
}

// Rule is one ordinary rule of a group, labelled by its index.
type Rule struct {
	Index   string `hcl:"index,label" json:"index"`
	Action  string `hcl:"action,optional" json:"action,omitempty"`
	Proto   string `hcl:"proto,optional" json:"proto,omitempty"` // tcp, udp, icmp, icmpv6 or a number
	Src     string `hcl:"src,optional" json:"src,omitempty"`
	Dst     string `hcl:"dst,optional" json:"dst,omitempty"`
	SrcPort int    `hcl:"src_port,optional" json:"src_port,omitempty"`
	DstPort int    `hcl:"dst_port,optional" json:"dst_port,omitempty"`
	Count   bool   `hcl:"count,optional" json:"count,omitempty"`
}

// Interface lists the groups attached to an interface, in attach order.
type Interface struct {
	Name    string   `hcl:"name,label" json:"name"`
	Ingress []string `hcl:"ingress,optional" json:"ingress,omitempty"`
	Egress  []string `hcl:"egress,optional" json:"egress,omitempty"`
}

// ApplyDefaults fills in every unset daemon setting.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.Backend == "" {
		c.Backend = BackendNFTables
	}
	if c.NFTTable == "" {
		c.NFTTable = "aclsync"
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8089"
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Interval == "" {
		c.Metrics.Interval = "15s"
	}
}

// MetricsInterval returns the parsed collector interval.
func (c *Config) MetricsInterval() time.Duration {
	if c.Metrics == nil {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(c.Metrics.Interval)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// FindRuleGroup returns the named group definition, or nil.
func (c *Config) FindRuleGroup(name string) *RuleGroup {
	for i := range c.RuleGroups {
		if c.RuleGroups[i].Name == name {
			return &c.RuleGroups[i]
		}
	}
	return nil
}
