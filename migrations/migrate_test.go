package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames_Ordered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_bookings.sql", "0002_inventory.sql", "0003_budget.sql", "0004_ledger_guards.sql"}, names)
}

func TestMigrations_NotEmpty(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	for _, name := range names {
		body, err := migrationFiles.ReadFile(name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "CREATE TABLE", name)
	}
}
