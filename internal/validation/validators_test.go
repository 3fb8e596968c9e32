package validation

import (
	"strings"
	"testing"
)

func TestValidateInterfaceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths
		{"simple", "eth0", false},
		{"with dash", "eth-0", false},
		{"with underscore", "eth_0", false},
		{"with dot (vlan)", "eth0.100", false},
		{"max length", "eth0123456789ab", false}, // 15 chars

		// Sad paths
		{"empty", "", true},
		{"too long", "eth01234567890123", true}, // 17 chars
		{"space", "eth 0", true},
		{"slash", "eth0/in", true},
		{"semicolon", "eth0;rm", true},
		{"newline", "eth0\n", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInterfaceName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInterfaceName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "G1", false},
		{"with dash", "web-in", false},
		{"with underscore", "mgmt_v6", false},
		{"max length", strings.Repeat("a", MaxIdentifierLen), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIdentifierLen+1), true},
		{"colon", "G1:10", true},
		{"space", "my group", true},
		{"dot", "a.b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowlist(t *testing.T) {
	allowed := []string{"memory", "nftables"}

	if err := ValidateAllowlist("nftables", allowed); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateAllowlist("iptables", allowed)
	if err == nil {
		t.Fatal("expected error for value outside the list")
	}
	if !strings.Contains(err.Error(), "memory, nftables") {
		t.Errorf("error should list allowed values: %v", err)
	}
}
