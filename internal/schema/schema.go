// Package schema holds the read-only snapshot of a relational schema that is
// rendered into the completion prompt.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cortexai/text2sql/internal/models"
)

// ErrSchemaUnavailable is returned by every describer when introspection fails.
var ErrSchemaUnavailable = models.ErrSchemaUnavailable

// DefaultMetadataTable is excluded from snapshots and read as the metadata store.
const DefaultMetadataTable = "column_metadata"

type Column struct {
	Name       string          `json:"name" yaml:"name"`
	Type       string          `json:"type" yaml:"type"`
	Nullable   bool            `json:"nullable" yaml:"nullable"`
	PrimaryKey bool            `json:"primary_key" yaml:"primary_key"`
	Metadata   *ColumnMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ForeignKey links Columns of the owning table to ReferredColumns of ReferredTable, position by position.
type ForeignKey struct {
	Columns         []string `json:"columns" yaml:"columns"`
	ReferredTable   string   `json:"referred_table" yaml:"referred_table"`
	ReferredColumns []string `json:"referred_columns" yaml:"referred_columns"`
}

// Valid reports whether the descriptor has matching, non-empty column lists.
func (fk ForeignKey) Valid() bool {
	return len(fk.Columns) > 0 && len(fk.Columns) == len(fk.ReferredColumns) && fk.ReferredTable != ""
}

type Table struct {
	Name        string       `json:"name" yaml:"name"`
	Columns     []Column     `json:"columns" yaml:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`
	SampleRows  []models.Row `json:"sample_rows,omitempty" yaml:"-"`
}

// Column returns the named column, matching case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the primary-key column names, sorted.
func (t Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	sort.Strings(pk)
	return pk
}

// Snapshot is the ordered set of tables seen by one describe call.
type Snapshot struct {
	Tables []Table `json:"tables" yaml:"tables"`
}

// Table returns the named table.
func (s *Snapshot) Table(name string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

func (s *Snapshot) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// WithMetadata returns a copy of the snapshot with metadata records attached to
// matching columns. The receiver is left untouched.
func (s *Snapshot) WithMetadata(idx MetadataIndex) *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Tables: make([]Table, len(s.Tables))}
	for i, t := range s.Tables {
		nt := t
		nt.Columns = make([]Column, len(t.Columns))
		for j, c := range t.Columns {
			if md, ok := idx.Lookup(t.Name, c.Name); ok {
				md := md
				c.Metadata = &md
			}
			nt.Columns[j] = c
		}
		out.Tables[i] = nt
	}
	return out
}

// SensitiveColumns returns the lower-cased names of columns flagged sensitive.
func (s *Snapshot) SensitiveColumns() map[string]bool {
	set := make(map[string]bool)
	if s == nil {
		return set
	}
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.Metadata != nil && c.Metadata.Sensitive {
				set[strings.ToLower(c.Name)] = true
			}
		}
	}
	return set
}

// SortForeignKeys orders descriptors by constrained columns, then referred table.
func SortForeignKeys(fks []ForeignKey) {
	sort.SliceStable(fks, func(i, j int) bool {
		a, b := strings.Join(fks[i].Columns, ","), strings.Join(fks[j].Columns, ",")
		if a != b {
			return a < b
		}
		return fks[i].ReferredTable < fks[j].ReferredTable
	})
}

// Unavailable wraps err so that errors.Is(err, ErrSchemaUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSchemaUnavailable, op, err)
}
