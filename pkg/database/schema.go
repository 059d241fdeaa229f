package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that the live database matches what the relay expects.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"conversations", "messages", "message_reads", "schema_migrations"} {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
// TECHNICAL DISCOVERY: go-sqlite3 only parses time.Time back out of columns
// declared DATETIME, so the declared type matters
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"conversations": {
			"room_key":      "TEXT",
			"participant_a": "TEXT",
			"participant_b": "TEXT",
			"created_at":    "DATETIME",
			"updated_at":    "DATETIME",
		},
		"messages": {
			"id":         "TEXT",
			"room_key":   "TEXT",
			"sender":     "TEXT",
			"sender_id":  "TEXT",
			"text":       "TEXT",
			"created_at": "DATETIME",
		},
		"message_reads": {
			"message_id": "TEXT",
			"user_id":    "TEXT",
			"read_at":    "DATETIME",
		},
	}

	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	indexes := []string{
		"idx_conversations_participant_a",
		"idx_conversations_participant_b",
		"idx_messages_room_time",
		"idx_messages_created_at",
		"idx_message_reads_user",
	}
	for _, index := range indexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = ctype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, want := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, want)
		}
	}
	return nil
}
