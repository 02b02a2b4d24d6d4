package guard

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultSystemTables are exempt from tenant scoping: infrastructure tables
// that carry no tenant rows. Everything not listed here is treated as
// multi-tenant, so unknown tables get the strict path.
var defaultSystemTables = []string{
	"migrations",
	"schema_migrations",
	"schema_versions",
	"system_config",
	"audit_logs",
}

// TableClassifier decides whether a table holds tenant data. The deny-list
// model means new application tables are protected without configuration.
type TableClassifier struct {
	system map[string]struct{}
}

func NewTableClassifier() *TableClassifier {
	c := &TableClassifier{system: make(map[string]struct{}, len(defaultSystemTables))}
	c.AddSystemTables(defaultSystemTables...)
	return c
}

// AddSystemTables marks additional tables as exempt from tenant scoping.
func (c *TableClassifier) AddSystemTables(names ...string) {
	for _, name := range names {
		name = normalizeTableName(name)
		if name != "" {
			c.system[name] = struct{}{}
		}
	}
}

// IsMultiTenant reports whether statements against the table must be tenant
// scoped. Catalog schemas, pg_-prefixed relations, and registered system
// tables are exempt.
func (c *TableClassifier) IsMultiTenant(table string) bool {
	name := normalizeTableName(table)
	if name == "" {
		return false
	}
	if schema, rest, ok := strings.Cut(name, "."); ok {
		if schema == "information_schema" || strings.HasPrefix(schema, "pg_") {
			return false
		}
		name = rest
	}
	if strings.HasPrefix(name, "pg_") || name == "information_schema" {
		return false
	}
	if _, ok := c.system[name]; ok {
		return false
	}
	return true
}

func normalizeTableName(table string) string {
	name := strings.ToLower(strings.TrimSpace(table))
	name = strings.ReplaceAll(name, `"`, "")
	return name
}

// TableConfig is the optional YAML override for table classification.
type TableConfig struct {
	SystemTables []string `yaml:"system_tables"`
}

// LoadTableConfig reads a classifier override file. The file extends the
// built-in exemption list, it never shrinks it.
func LoadTableConfig(path string) (*TableConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table config: %w", err)
	}
	var cfg TableConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse table config: %w", err)
	}
	return &cfg, nil
}
