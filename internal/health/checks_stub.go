//go:build !linux
// +build !linux

package health

import (
	"context"
)

// CheckNftables verifies nftables is working.
func CheckNftables(table string) CheckFunc {
	return func(ctx context.Context) Check {
		return Check{
			Status:  StatusHealthy,
			Message: "nftables unsupported on this OS (stubbed)",
		}
	}
}
