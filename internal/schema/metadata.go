package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnMetadata is business context for a column that the raw schema lacks.
type ColumnMetadata struct {
	BusinessName string `json:"business_name,omitempty" yaml:"business_name,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Example      string `json:"example,omitempty" yaml:"example,omitempty"`
	Rule         string `json:"rule,omitempty" yaml:"rule,omitempty"`
	Sensitive    bool   `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`
}

// Empty reports whether the record carries nothing to render.
func (m ColumnMetadata) Empty() bool {
	return m == ColumnMetadata{}
}

type MetadataKey struct {
	Table  string
	Column string
}

func Key(table, column string) MetadataKey {
	return MetadataKey{Table: strings.ToLower(table), Column: strings.ToLower(column)}
}

// MetadataIndex maps (table, column) to its metadata record.
type MetadataIndex map[MetadataKey]ColumnMetadata

func (idx MetadataIndex) Lookup(table, column string) (ColumnMetadata, bool) {
	md, ok := idx[Key(table, column)]
	return md, ok
}

func (idx MetadataIndex) Put(table, column string, md ColumnMetadata) {
	idx[Key(table, column)] = md
}

// Merge returns a new index holding idx overlaid with other.
func (idx MetadataIndex) Merge(other MetadataIndex) MetadataIndex {
	out := make(MetadataIndex, len(idx)+len(other))
	for k, v := range idx {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// metadataFile is the on-disk layout:
//
//	tables:
//	  t01:
//	    c001: {business_name: Employee ID, sensitive: false}
type metadataFile struct {
	Tables map[string]map[string]ColumnMetadata `yaml:"tables"`
}

// LoadMetadataFile reads a YAML metadata file. An empty path yields an empty index.
func LoadMetadataFile(path string) (MetadataIndex, error) {
	idx := make(MetadataIndex)
	if path == "" {
		return idx, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	return ParseMetadata(data)
}

func ParseMetadata(data []byte) (MetadataIndex, error) {
	var f metadataFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	idx := make(MetadataIndex)
	for table, cols := range f.Tables {
		for col, md := range cols {
			idx.Put(table, col, md)
		}
	}
	return idx, nil
}
