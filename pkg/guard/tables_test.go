package guard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableClassifier(t *testing.T) {
	tests := []struct {
		name  string
		table string
		want  bool
	}{
		{"application table", "orders", true},
		{"uppercase application table", "Orders", true},
		{"quoted identifier", `"Orders"`, true},
		{"schema qualified", "public.orders", true},
		{"migrations", "migrations", false},
		{"schema_migrations", "schema_migrations", false},
		{"schema_versions", "schema_versions", false},
		{"system_config", "system_config", false},
		{"audit_logs", "audit_logs", false},
		{"pg prefixed", "pg_stat_activity", false},
		{"pg catalog schema", "pg_catalog.pg_tables", false},
		{"information schema", "information_schema.tables", false},
		{"information schema bare", "information_schema", false},
		{"empty name", "", false},
	}

	c := NewTableClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsMultiTenant(tt.table))
		})
	}
}

func TestTableClassifierAddSystemTables(t *testing.T) {
	c := NewTableClassifier()
	require.True(t, c.IsMultiTenant("feature_flags"))

	c.AddSystemTables("feature_flags", `"Lookup"`)
	assert.False(t, c.IsMultiTenant("feature_flags"))
	assert.False(t, c.IsMultiTenant("lookup"))
	assert.True(t, c.IsMultiTenant("orders"))
}

func TestLoadTableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	data := "system_tables:\n  - feature_flags\n  - currency_rates\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadTableConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature_flags", "currency_rates"}, cfg.SystemTables)

	c := NewTableClassifier()
	c.AddSystemTables(cfg.SystemTables...)
	assert.False(t, c.IsMultiTenant("feature_flags"))
	assert.False(t, c.IsMultiTenant("currency_rates"))
}

func TestLoadTableConfigErrors(t *testing.T) {
	_, err := LoadTableConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_tables: {not: a list}"), 0o600))
	_, err = LoadTableConfig(path)
	assert.Error(t, err)
}
