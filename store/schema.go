package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Table names one of the three relations kept by the store.
type Table string

const (
	Indexed   Table = "tblArticlesIndexed"
	Scraped   Table = "tblArticlesScraped"
	Processed Table = "tblArticlesProcessed"
)

// Tables lists every relation in save order.
var Tables = []Table{Indexed, Scraped, Processed}

// Mode selects how Save writes a table.
type Mode int

const (
	// Replace rewrites the whole table from memory.
	Replace Mode = iota
	// Append inserts the pending rows and clears the buffer.
	Append
)

func (m Mode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Column names shared between the store and its callers.
const (
	ColURL           = "URL"
	ColDateScraped   = "DateScraped"
	ColDateProcessed = "DateProcessed"
)

const (
	typeText    = "TEXT"
	typeInteger = "INTEGER"
	typeReal    = "REAL"
	typeBlob    = "BLOB"
)

const indexedSchema = `
CREATE TABLE IF NOT EXISTS tblArticlesIndexed (
	URL TEXT PRIMARY KEY,
	NewspaperID TEXT NOT NULL,
	DateIndexed TEXT NOT NULL,
	PubDateIndexPage TEXT,
	Edition TEXT,
	Public INTEGER,
	Scraped INTEGER NOT NULL DEFAULT 0,
	Processed INTEGER NOT NULL DEFAULT 0
);`

const scrapedSchema = `
CREATE TABLE IF NOT EXISTS tblArticlesScraped (
	URL TEXT PRIMARY KEY,
	DateScraped TEXT
);`

const processedSchema = `
CREATE TABLE IF NOT EXISTS tblArticlesProcessed (
	URL TEXT PRIMARY KEY,
	DateProcessed TEXT
);`

// columnSet is the known column layout of an open-schema table.
type columnSet struct {
	names []string
	types map[string]string
}

func newColumnSet() *columnSet {
	return &columnSet{types: make(map[string]string)}
}

func (c *columnSet) has(name string) bool {
	_, ok := c.types[name]
	return ok
}

func (c *columnSet) add(name, typ string) {
	if c.has(name) {
		return
	}
	c.names = append(c.names, name)
	c.types[name] = typ
}

type columnInfo struct {
	CID     int     `db:"cid"`
	Name    string  `db:"name"`
	Type    string  `db:"type"`
	NotNull int     `db:"notnull"`
	Default *string `db:"dflt_value"`
	PK      int     `db:"pk"`
}

// loadColumns reads the column layout of table from disk.
func loadColumns(q sqlx.Queryer, table Table) (*columnSet, error) {
	var infos []columnInfo
	if err := sqlx.Select(q, &infos, fmt.Sprintf("PRAGMA table_info(%s)", table)); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	set := newColumnSet()
	for _, info := range infos {
		set.add(info.Name, strings.ToUpper(info.Type))
	}
	return set, nil
}

// ensureColumns adds every column carried by rows that the table lacks.
func ensureColumns(x sqlx.Execer, table Table, set *columnSet, rows []Row) ([]string, error) {
	var added []string
	for _, row := range rows {
		for _, key := range sortedKeys(row) {
			if set.has(key) {
				continue
			}
			typ := inferType(row[key])
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, quoteIdent(key), typ)
			if _, err := x.Exec(stmt); err != nil {
				return added, fmt.Errorf("failed to add column %s to %s: %w", key, table, err)
			}
			set.add(key, typ)
			added = append(added, key)
		}
	}
	return added, nil
}

// inferType maps a Go value to the SQLite storage class its column gets.
func inferType(v any) string {
	switch v.(type) {
	case nil:
		return typeBlob
	case string, time.Time, *time.Time:
		return typeText
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return typeInteger
	case float32, float64:
		return typeReal
	case []byte, json.RawMessage:
		return typeBlob
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return typeText
	default:
		return typeBlob
	}
}

// toDBValue converts a row value into something the sqlite driver stores
// without surprises. Composite values become JSON text.
func toDBValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, bool, []byte:
		return val, nil
	case uint:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case json.RawMessage:
		return []byte(val), nil
	case time.Time:
		return formatTime(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return formatTime(*val), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}

// fromDBValue undoes the driver's habit of handing TEXT back as bytes.
func fromDBValue(v any, typ string) any {
	if b, ok := v.([]byte); ok && typ == typeText {
		return string(b)
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isMissingColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "has no column named")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
