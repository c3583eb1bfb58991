package schema

import (
	"fmt"
	"strings"
)

const maskedValue = "***"

// Render serializes the snapshot for the completion prompt. The output depends
// only on the snapshot contents, so equal snapshots render to equal bytes.
func Render(s *Snapshot, includeMetadata bool) string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		parts = append(parts, renderTable(t, includeMetadata))
	}
	return strings.Join(parts, "\n")
}

func renderTable(t Table, includeMetadata bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s\n", t.Name)
	sb.WriteString("Columns:\n")
	for _, c := range t.Columns {
		sb.WriteString("  - ")
		sb.WriteString(c.Name)
		sb.WriteByte(' ')
		sb.WriteString(c.Type)
		if c.Nullable {
			sb.WriteString(" NULL")
		} else {
			sb.WriteString(" NOT NULL")
		}
		if c.PrimaryKey {
			sb.WriteString(" PRIMARY KEY")
		}
		if includeMetadata && c.Metadata != nil && !c.Metadata.Empty() {
			sb.WriteString(" (")
			sb.WriteString(annotation(*c.Metadata))
			sb.WriteByte(')')
		}
		sb.WriteByte('\n')
	}

	if len(t.ForeignKeys) > 0 {
		sb.WriteString("Foreign Keys:\n")
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&sb, "  - %s references %s(%s)\n",
				strings.Join(fk.Columns, ", "), fk.ReferredTable, strings.Join(fk.ReferredColumns, ", "))
		}
	}

	if len(t.SampleRows) > 0 {
		fmt.Fprintf(&sb, "Sample data (first %d rows):\n", len(t.SampleRows))
		for _, row := range t.SampleRows {
			cells := make([]string, 0, len(t.Columns))
			for _, c := range t.Columns {
				v, ok := row[c.Name]
				if !ok {
					continue
				}
				val := v.String()
				if c.Metadata != nil && c.Metadata.Sensitive && !v.IsNull() {
					val = maskedValue
				}
				cells = append(cells, c.Name+"="+val)
			}
			fmt.Fprintf(&sb, "  - %s\n", strings.Join(cells, ", "))
		}
	}
	return sb.String()
}

func annotation(md ColumnMetadata) string {
	var fields []string
	if md.BusinessName != "" {
		fields = append(fields, "business name: "+md.BusinessName)
	}
	if md.Description != "" {
		fields = append(fields, "description: "+md.Description)
	}
	if md.Example != "" {
		fields = append(fields, "example: "+md.Example)
	}
	if md.Rule != "" {
		fields = append(fields, "rule: "+md.Rule)
	}
	if md.Sensitive {
		fields = append(fields, "sensitive")
	}
	return strings.Join(fields, ", ")
}
