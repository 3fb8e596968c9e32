package testutil

import "testing"

func TestRequireKernel_Skips(t *testing.T) {
	t.Setenv(KernelTestEnv, "")

	ran := false
	t.Run("gated", func(t *testing.T) {
		RequireKernel(t)
		ran = true
	})
	if ran {
		t.Error("test body ran without the kernel environment")
	}
}
