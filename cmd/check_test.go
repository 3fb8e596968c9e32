package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/aclsync/internal/errors"
)

const testHCL = `
backend = "memory"

rule_group "G1" {
  attributes {
    family   = "ipv4"
    counters = "numbered"
  }

  rule "10" {
    action   = "drop"
    proto    = "tcp"
    dst_port = 22
    count    = true
  }
}

interface "eth0" {
  ingress = ["G1"]
}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aclsync.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCheck(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, check(context.Background(), &buf, writeConfig(t, testHCL), false))

	out := buf.String()
	assert.Contains(t, out, "Configuration valid!")
	assert.Contains(t, out, "Backend: memory")
	assert.Contains(t, out, "Rule Groups: 1")
	assert.NotContains(t, out, "[DRY RUN]")
}

func TestCheck_Verbose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, check(context.Background(), &buf, writeConfig(t, testHCL), true))

	out := buf.String()
	assert.Contains(t, out, "RULE GROUP")
	assert.Regexp(t, `G1\s+ipv4\s+numbered\s+1\n`, out)
	assert.Regexp(t, `eth0\s+G1\s+-\n`, out)
	assert.Contains(t, out, "  group.create G1 ipv4\n")
	assert.Contains(t, out, "  group.attach G1 eth0/in\n")
	assert.Contains(t, out, " RLS: eth0(1)/In  IFP")
}

func TestCheck_Invalid(t *testing.T) {
	err := check(context.Background(), &bytes.Buffer{}, "", false)
	assert.ErrorContains(t, err, "usage:")

	err = check(context.Background(), &bytes.Buffer{}, writeConfig(t, `backend = "bogus"`), false)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Contains(t, err.Error(), "backend")

	err = check(context.Background(), &bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.hcl"), false)
	assert.ErrorContains(t, err, "configuration invalid")
}
