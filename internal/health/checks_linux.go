//go:build linux
// +build linux

package health

import (
	"context"
	"fmt"

	"github.com/google/nftables"
)

// CheckNftables verifies nftables answers and that table exists.
func CheckNftables(table string) CheckFunc {
	return func(ctx context.Context) Check {
		conn, err := nftables.New()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to open nftables connection: %v", err)}
		}
		tables, err := conn.ListTables()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to list tables: %v", err)}
		}
		for _, t := range tables {
			if t.Name == table {
				return Check{Status: StatusHealthy, Message: fmt.Sprintf("table %s present (%d tables)", table, len(tables))}
			}
		}
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("table %s not programmed yet", table)}
	}
}
