package types

import (
	"fmt"
	"time"
)

// ValueKind identifies the serialization family of a cached value.
type ValueKind string

const (
	// KindTable marks tabular values stored in the columnar format.
	KindTable ValueKind = "table"
	// KindBlob marks arbitrary byte payloads stored in the generic format.
	KindBlob ValueKind = "blob"
)

// Value is the tagged variant accepted by the cache. Exactly two
// implementations exist: Table (columnar) and Blob (generic bytes).
type Value interface {
	Kind() ValueKind
}

// Blob is an arbitrary serialized payload.
type Blob []byte

// Kind implements Value.
func (Blob) Kind() ValueKind { return KindBlob }

// ColumnKind identifies the element type of a table column.
type ColumnKind string

const (
	ColumnInt64   ColumnKind = "int64"
	ColumnFloat64 ColumnKind = "float64"
	ColumnString  ColumnKind = "string"
	ColumnBool    ColumnKind = "bool"
)

// Column is a single named, typed column. Only the slice matching Type
// is populated.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnKind `json:"type"`
	Int64s   []int64    `json:"int64s,omitempty"`
	Float64s []float64  `json:"float64s,omitempty"`
	Strings  []string   `json:"strings,omitempty"`
	Bools    []bool     `json:"bools,omitempty"`
}

// Len returns the number of rows held by the column.
func (c *Column) Len() int {
	switch c.Type {
	case ColumnInt64:
		return len(c.Int64s)
	case ColumnFloat64:
		return len(c.Float64s)
	case ColumnString:
		return len(c.Strings)
	case ColumnBool:
		return len(c.Bools)
	default:
		return 0
	}
}

// Table is a column-oriented tabular value. Column order is significant
// and all columns must hold the same number of rows.
type Table struct {
	Columns []Column `json:"columns"`
}

// Kind implements Value.
func (*Table) Kind() ValueKind { return KindTable }

// NumRows returns the row count of the table (0 for an empty table).
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumColumns returns the column count of the table.
func (t *Table) NumColumns() int { return len(t.Columns) }

// Validate checks structural consistency: non-empty unique column names,
// a known column type, and a uniform row count across columns.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	rows := -1
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Name == "" {
			return fmt.Errorf("column %d has no name", i)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("duplicate column name %q", col.Name)
		}
		seen[col.Name] = struct{}{}

		switch col.Type {
		case ColumnInt64, ColumnFloat64, ColumnString, ColumnBool:
		default:
			return fmt.Errorf("column %q has unknown type %q", col.Name, col.Type)
		}

		if rows == -1 {
			rows = col.Len()
		} else if col.Len() != rows {
			return fmt.Errorf("column %q has %d rows, expected %d", col.Name, col.Len(), rows)
		}
	}
	return nil
}

// StorageStats is a read-only snapshot of tier occupancy. It is derived
// state: mutating it has no effect on the cache.
type StorageStats struct {
	MemoryUsedBytes    int64   `json:"memory_used_bytes"`
	MemoryBudgetBytes  int64   `json:"memory_budget_bytes"`
	MemoryUsedFraction float64 `json:"memory_used_fraction"`
	DiskUsedBytes      int64   `json:"disk_used_bytes"`
	DiskBudgetBytes    int64   `json:"disk_budget_bytes"`
	DiskUsedFraction   float64 `json:"disk_used_fraction"`

	// SessionCount is the number of distinct sessions across both tiers.
	SessionCount   int `json:"session_count"`
	MemorySessions int `json:"memory_sessions"`
	DiskSessions   int `json:"disk_sessions"`
	MemoryItems    int `json:"memory_items"`
	DiskItems      int `json:"disk_items"`
}

// SessionInfo describes one session's bookkeeping in a single tier.
type SessionInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	SizeBytes  int64     `json:"size_bytes"`
	ItemCount  int       `json:"item_count"`
}
