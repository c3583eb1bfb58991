package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/cortexai/text2sql/internal/schema"
)

// seedTable is one demo table: its DDL and the inserts applied when it is empty.
type seedTable struct {
	name    string
	ddl     string
	inserts []string
}

var employeesDataset = []seedTable{
	{
		name: "departments",
		ddl: `CREATE TABLE IF NOT EXISTS departments (
			id INTEGER PRIMARY KEY,
			name VARCHAR NOT NULL,
			location VARCHAR
		)`,
		inserts: []string{
			`INSERT INTO departments (id, name, location) VALUES
			(1, 'Engineering', 'San Francisco'),
			(2, 'Sales', 'New York'),
			(3, 'Marketing', 'Los Angeles')`,
		},
	},
	{
		name: "employees",
		ddl: `CREATE TABLE IF NOT EXISTS employees (
			id INTEGER PRIMARY KEY,
			name VARCHAR NOT NULL,
			age INTEGER,
			department_id INTEGER REFERENCES departments(id),
			salary DOUBLE PRECISION,
			hire_date DATE
		)`,
		inserts: []string{
			`INSERT INTO employees (id, name, age, department_id, salary, hire_date) VALUES
			(1, 'John Doe', 30, 1, 75000.0, DATE '2020-01-15'),
			(2, 'Jane Smith', 28, 2, 65000.0, DATE '2021-03-20'),
			(3, 'Bob Johnson', 35, 1, 85000.0, DATE '2019-07-10'),
			(4, 'Alice Brown', 32, 3, 70000.0, DATE '2020-11-05'),
			(5, 'Charlie Wilson', 29, 2, 68000.0, DATE '2022-02-15')`,
		},
	},
}

// opaqueDataset stores the same data under names that carry no meaning, so
// the model depends on the column metadata to answer.
var opaqueDataset = []seedTable{
	{
		name: "t02",
		ddl: `CREATE TABLE IF NOT EXISTS t02 (
			c001 INTEGER PRIMARY KEY,
			c002 VARCHAR NOT NULL,
			c003 VARCHAR
		)`,
		inserts: []string{
			`INSERT INTO t02 (c001, c002, c003) VALUES
			(1, 'Engineering', 'San Francisco'),
			(2, 'Sales', 'New York'),
			(3, 'Marketing', 'Los Angeles')`,
		},
	},
	{
		name: "t01",
		ddl: `CREATE TABLE IF NOT EXISTS t01 (
			c001 INTEGER PRIMARY KEY,
			c002 VARCHAR NOT NULL,
			c003 INTEGER,
			c004 INTEGER REFERENCES t02(c001),
			c005 DOUBLE PRECISION,
			c006 DATE
		)`,
		inserts: []string{
			`INSERT INTO t01 (c001, c002, c003, c004, c005, c006) VALUES
			(1, 'John Doe', 30, 1, 75000.0, DATE '2020-01-15'),
			(2, 'Jane Smith', 28, 2, 65000.0, DATE '2021-03-20'),
			(3, 'Bob Johnson', 35, 1, 85000.0, DATE '2019-07-10'),
			(4, 'Alice Brown', 32, 3, 70000.0, DATE '2020-11-05'),
			(5, 'Charlie Wilson', 29, 2, 68000.0, DATE '2022-02-15')`,
		},
	},
}

func metadataSeed(table string) seedTable {
	return seedTable{
		name: table,
		ddl: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name VARCHAR NOT NULL,
			column_name VARCHAR NOT NULL,
			business_name VARCHAR,
			description VARCHAR,
			data_type VARCHAR,
			example_value VARCHAR,
			is_sensitive BOOLEAN DEFAULT FALSE,
			business_rules VARCHAR,
			PRIMARY KEY (table_name, column_name)
		)`, quoteIdent(table)),
		inserts: []string{
			fmt.Sprintf(`INSERT INTO %s
			(table_name, column_name, business_name, description, data_type, example_value, is_sensitive, business_rules) VALUES
			('t01', 'c001', 'Employee ID', 'Unique identifier of the employee', 'INTEGER', '1, 2, 3', FALSE, 'Primary key'),
			('t01', 'c002', 'Employee name', 'Full name of the employee', 'VARCHAR', 'John Doe', FALSE, 'Required'),
			('t01', 'c003', 'Employee age', 'Age in years', 'INTEGER', '30, 28, 35', FALSE, 'Must be over 18'),
			('t01', 'c004', 'Department ID', 'Department the employee belongs to', 'INTEGER', '1, 2, 3', FALSE, 'Foreign key to t02'),
			('t01', 'c005', 'Salary', 'Annual salary', 'DOUBLE', '75000.0, 65000.0', TRUE, 'In US dollars'),
			('t01', 'c006', 'Hire date', 'Date the employee joined', 'DATE', '2020-01-15', FALSE, 'Format YYYY-MM-DD'),
			('t02', 'c001', 'Department ID', 'Unique identifier of the department', 'INTEGER', '1, 2, 3', FALSE, 'Primary key'),
			('t02', 'c002', 'Department name', 'Name of the department', 'VARCHAR', 'Engineering, Sales', FALSE, 'Required'),
			('t02', 'c003', 'Office location', 'City of the department office', 'VARCHAR', 'San Francisco', FALSE, 'Optional')`,
				quoteIdent(table)),
		},
	}
}

// SeedOptions selects the demo dataset.
type SeedOptions struct {
	// Opaque loads t01/t02 plus their column metadata instead of employees/departments.
	Opaque        bool
	MetadataTable string
}

// Seed creates the demo tables and fills the empty ones. Running it twice is harmless.
func Seed(ctx context.Context, db Seeder, opts SeedOptions) error {
	tables := employeesDataset
	if opts.Opaque {
		mdTable := opts.MetadataTable
		if mdTable == "" {
			mdTable = schema.DefaultMetadataTable
		}
		tables = append([]seedTable{metadataSeed(mdTable)}, opaqueDataset...)
	}

	for _, t := range tables {
		if err := db.ExecStatement(ctx, t.ddl); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
		n, err := db.CountRows(ctx, t.name)
		if err != nil {
			return fmt.Errorf("count %s: %w", t.name, err)
		}
		if n > 0 {
			log.Debug().Str("table", t.name).Int64("rows", n).Msg("seed skipped, table populated")
			continue
		}
		for _, stmt := range t.inserts {
			if err := db.ExecStatement(ctx, stmt); err != nil {
				return fmt.Errorf("insert %s: %w", t.name, err)
			}
		}
		log.Info().Str("table", t.name).Msg("seeded")
	}
	return nil
}
