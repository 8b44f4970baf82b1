package bountytesting

import (
	"testing"

	"github.com/malbeclabs/bounty/allocator/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/bounty/allocator/pkg/clickhouse/testing"
)

// NewClient returns a client on a fresh database with migrations applied.
// The test is skipped when no container database is available.
func NewClient(t *testing.T, db *clickhousetesting.DB) clickhouse.Client {
	t.Helper()
	if db == nil {
		t.Skip("ClickHouse container is not available")
	}
	return clickhousetesting.NewMigratedTestClient(t, db).Client
}
