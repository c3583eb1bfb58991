package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/schema"
)

func demoSnapshot() *schema.Snapshot {
	return &schema.Snapshot{Tables: []schema.Table{
		{
			Name: "departments",
			Columns: []schema.Column{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "VARCHAR"},
				{Name: "location", Type: "VARCHAR", Nullable: true},
			},
		},
		{
			Name: "employees",
			Columns: []schema.Column{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "VARCHAR"},
				{Name: "department_id", Type: "INTEGER", Nullable: true},
			},
			ForeignKeys: []schema.ForeignKey{
				{Columns: []string{"department_id"}, ReferredTable: "departments", ReferredColumns: []string{"id"}},
			},
		},
	}}
}

func TestRender(t *testing.T) {
	want := "Table: departments\n" +
		"Columns:\n" +
		"  - id INTEGER NOT NULL PRIMARY KEY\n" +
		"  - name VARCHAR NOT NULL\n" +
		"  - location VARCHAR NULL\n" +
		"\n" +
		"Table: employees\n" +
		"Columns:\n" +
		"  - id INTEGER NOT NULL PRIMARY KEY\n" +
		"  - name VARCHAR NOT NULL\n" +
		"  - department_id INTEGER NULL\n" +
		"Foreign Keys:\n" +
		"  - department_id references departments(id)\n"

	assert.Equal(t, want, schema.Render(demoSnapshot(), false))
}

func TestRenderDeterministic(t *testing.T) {
	s := demoSnapshot()
	first := schema.Render(s, true)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, schema.Render(demoSnapshot(), true))
	}
}

func TestRenderMetadata(t *testing.T) {
	idx := make(schema.MetadataIndex)
	idx.Put("employees", "name", schema.ColumnMetadata{
		BusinessName: "Employee name",
		Description:  "Full legal name",
		Example:      "John Doe",
		Sensitive:    true,
	})
	idx.Put("departments", "location", schema.ColumnMetadata{Rule: "City only"})

	s := demoSnapshot().WithMetadata(idx)

	out := schema.Render(s, true)
	assert.Contains(t, out, "  - name VARCHAR NOT NULL (business name: Employee name, description: Full legal name, example: John Doe, sensitive)\n")
	assert.Contains(t, out, "  - location VARCHAR NULL (rule: City only)\n")

	plain := schema.Render(s, false)
	assert.NotContains(t, plain, "business name")
	assert.Equal(t, schema.Render(demoSnapshot(), false), plain)
}

func TestWithMetadataLeavesReceiver(t *testing.T) {
	s := demoSnapshot()
	idx := make(schema.MetadataIndex)
	idx.Put("EMPLOYEES", "Name", schema.ColumnMetadata{Sensitive: true})

	enriched := s.WithMetadata(idx)
	require.NotNil(t, enriched.Tables[1].Columns[1].Metadata)
	assert.Nil(t, s.Tables[1].Columns[1].Metadata)
	assert.Equal(t, map[string]bool{"name": true}, enriched.SensitiveColumns())
}

func TestRenderSampleRowsMasksSensitive(t *testing.T) {
	s := demoSnapshot()
	s.Tables[1].SampleRows = []models.Row{
		{"id": models.IntValue(1), "name": models.StringValue("John Doe"), "department_id": models.IntValue(1)},
		{"id": models.IntValue(2), "name": models.StringValue("Jane Smith"), "department_id": models.Null()},
	}
	idx := make(schema.MetadataIndex)
	idx.Put("employees", "name", schema.ColumnMetadata{Sensitive: true})

	out := schema.Render(s.WithMetadata(idx), false)
	assert.Contains(t, out, "Sample data (first 2 rows):\n  - id=1, name=***, department_id=1\n  - id=2, name=***, department_id=NULL\n")
	assert.NotContains(t, out, "John Doe")
}

func TestForeignKeyValid(t *testing.T) {
	tests := []struct {
		fk   schema.ForeignKey
		want bool
	}{
		{schema.ForeignKey{Columns: []string{"a"}, ReferredTable: "t", ReferredColumns: []string{"x"}}, true},
		{schema.ForeignKey{Columns: []string{"a", "b"}, ReferredTable: "t", ReferredColumns: []string{"x"}}, false},
		{schema.ForeignKey{ReferredTable: "t"}, false},
		{schema.ForeignKey{Columns: []string{"a"}, ReferredColumns: []string{"x"}}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.fk.Valid(), "%+v", tt.fk)
	}
}

func TestSortForeignKeys(t *testing.T) {
	fks := []schema.ForeignKey{
		{Columns: []string{"manager_id"}, ReferredTable: "employees", ReferredColumns: []string{"id"}},
		{Columns: []string{"department_id"}, ReferredTable: "departments", ReferredColumns: []string{"id"}},
	}
	schema.SortForeignKeys(fks)
	assert.Equal(t, "department_id", fks[0].Columns[0])
}

func TestParseMetadata(t *testing.T) {
	doc := []byte(`
tables:
  t01:
    c001:
      business_name: Employee ID
      description: Unique employee identifier
      example: "1001"
    c005:
      business_name: Salary
      sensitive: true
      rule: Monthly gross pay
`)
	idx, err := schema.ParseMetadata(doc)
	require.NoError(t, err)
	require.Len(t, idx, 2)

	md, ok := idx.Lookup("T01", "C005")
	require.True(t, ok)
	assert.True(t, md.Sensitive)
	assert.Equal(t, "Monthly gross pay", md.Rule)
}

func TestLoadMetadataFileEmptyPath(t *testing.T) {
	idx, err := schema.LoadMetadataFile("")
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestUnavailable(t *testing.T) {
	err := schema.Unavailable("list tables", errors.New("connection refused"))
	assert.ErrorIs(t, err, schema.ErrSchemaUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}
