package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// LoadFile loads a config file (HCL or JSON) and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".hcl":
		return LoadHCL(data, path)
	case ".json":
		return LoadJSON(data)
	default:
		// Try HCL first, fall back to JSON
		cfg, err := LoadHCL(data, path)
		if err != nil {
			return LoadJSON(data)
		}
		return cfg, nil
	}
}

// LoadHCL loads config from HCL bytes
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	// Check the version before decoding with this version's schema
	var versionProbe struct {
		SchemaVersion string   `hcl:"schema_version,optional"`
		Remain        hcl.Body `hcl:",remain"`
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &versionProbe); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	if err := checkVersion(versionProbe.SchemaVersion); err != nil {
		return nil, err
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadJSON loads config from JSON bytes
func LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	if err := checkVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func checkVersion(s string) error {
	version, err := ParseVersion(s)
	if err != nil {
		return fmt.Errorf("invalid schema version: %w", err)
	}
	if !IsSupportedVersion(version) {
		return fmt.Errorf("unsupported config schema version %s (current: %s)", version, CurrentSchemaVersion)
	}
	return nil
}

// ValidateHCL validates HCL source without loading it.
func ValidateHCL(hclSource string) error {
	data := []byte(hclSource)

	// Check syntax
	_, diags := hclwrite.ParseConfig(data, "validate.hcl", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return fmt.Errorf("syntax error: %s", diags.Error())
	}

	// Check schema
	var cfg Config
	if err := hclsimple.Decode("validate.hcl", data, nil, &cfg); err != nil {
		return fmt.Errorf("schema error: %w", err)
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		return errs
	}
	return nil
}

// GenerateHCL renders cfg as HCL.
func GenerateHCL(cfg *Config) []byte {
	out := *cfg
	// Nil lists would encode as null, which does not decode back.
	out.Interfaces = make([]Interface, len(cfg.Interfaces))
	for i, ifc := range cfg.Interfaces {
		if ifc.Ingress == nil {
			ifc.Ingress = []string{}
		}
		if ifc.Egress == nil {
			ifc.Egress = []string{}
		}
		out.Interfaces[i] = ifc
	}

	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&out, f.Body())
	return hclwrite.Format(f.Bytes())
}

// SaveFile saves config to a file (format determined by extension)
func SaveFile(cfg *Config, path string) error {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = CurrentSchemaVersion
	}

	var data []byte
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		var err error
		if data, err = json.MarshalIndent(cfg, "", "  "); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	} else {
		data = GenerateHCL(cfg)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
