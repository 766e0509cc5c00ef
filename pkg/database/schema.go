package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// SchemaValidator checks a live database against the shape the store expects.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{
	"sessions",
	"collections",
	"question_templates",
	"session_questions",
	"responses",
	"schema_migrations",
}

var requiredIndexes = []string{
	"idx_sessions_status",
	"idx_templates_collection",
	"idx_session_questions_session_status",
	"idx_responses_question_student",
	"idx_responses_session_time",
}

var requiredColumns = map[string]map[string]string{
	"sessions": {
		"id":         "INTEGER",
		"code":       "TEXT",
		"ai_model":   "TEXT",
		"status":     "TEXT",
		"created_at": "DATETIME",
		"closed_at":  "DATETIME",
	},
	"session_questions": {
		"id":               "INTEGER",
		"session_id":       "INTEGER",
		"template_id":      "INTEGER",
		"text":             "TEXT",
		"grading_criteria": "TEXT",
		"status":           "TEXT",
		"launched_at":      "DATETIME",
		"closed_at":        "DATETIME",
	},
	"responses": {
		"id":                  "TEXT",
		"session_id":          "INTEGER",
		"session_question_id": "INTEGER",
		"student_name":        "TEXT",
		"answer_text":         "TEXT",
		"score":               "INTEGER",
		"feedback":            "TEXT",
		"created_at":          "DATETIME",
	},
}

func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateTableStructure() error {
	tables := make([]string, 0, len(requiredColumns))
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		if err := v.validateColumns(table, requiredColumns[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints probes the foreign key and check constraints inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO session_questions (session_id, template_id, text, launched_at)
		VALUES (-1, -1, 'probe', CURRENT_TIMESTAMP)
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: session_questions.session_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (code, ai_model, status) VALUES ('PROBE1', 'probe', 'paused')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: sessions.status")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, wantType := range expectedColumns {
		gotType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", col, gotType, wantType)
		}
	}
	return nil
}
