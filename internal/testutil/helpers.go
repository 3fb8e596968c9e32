// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// KernelTestEnv enables tests that program the running kernel.
const KernelTestEnv = "ACLSYNC_KERNEL_TEST"

// RequireKernel skips the test unless KernelTestEnv is set. Such tests
// need CAP_NET_ADMIN and change live nftables state, so they only run in
// a throwaway VM or network namespace.
func RequireKernel(t *testing.T) {
	t.Helper()
	if os.Getenv(KernelTestEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", KernelTestEnv)
	}
}
