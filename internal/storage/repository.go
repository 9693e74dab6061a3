// Package storage persists scraped records into a relational database.
//
// The layout is a small star: one dimension row per program (keyed by its
// CAPES code) and one fact row per docente listed under it, stamped with the
// run id. Backends register themselves by kind from an init function; import
// sucupira/internal/storage/all to get every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - DSN is passed through to the backend; validation is backend-specific.
//   - TablePrefix is prepended to every table name. Empty means DefaultTablePrefix.
type Config struct {
	Kind        string
	DSN         string
	TablePrefix string
}

// Repository is the backend-agnostic surface the Sink needs. Each backend
// implements it in its own idiom (Postgres ON CONFLICT, SQLite OR IGNORE,
// SQL Server NOT EXISTS).
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates missing tables and their constraints.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// EnsureDimensionRows inserts rows whose keyColumn value is not yet
	// present. Existing rows are left untouched.
	EnsureDimensionRows(ctx context.Context, table, keyColumn string, columns []string, rows [][]any) error

	// SelectKeyValueByKeys maps KeyString(key) to the surrogate id in valueColumn.
	SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error)

	// InsertFactRows inserts rows, skipping any that collide on dedupeColumns.
	// With no dedupeColumns every row is written. It returns the number of
	// rows actually written.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)

	// DeleteRows removes every row of table whose column equals value and
	// returns how many were removed.
	DeleteRows(ctx context.Context, table, column string, value any) (int64, error)
}

// Factory opens a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind (e.g. "postgres", "sqlite").
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository with the backend registered under cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// KeyString converts a scanned key value to the canonical form used in
// lookup maps. Drivers disagree on whether text comes back as string or
// []byte, so every backend funnels keys through here.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
