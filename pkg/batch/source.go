package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/fault"
)

// Fetcher pulls records from a source system. since bounds incremental
// fetches; a zero since means a full fetch.
type Fetcher interface {
	Fetch(ctx context.Context, source DataSource, since time.Time) ([]Record, error)
	Close() error
}

// SQLParams is the connection_params shape for SQL-backed sources.
type SQLParams struct {
	Driver          string   `mapstructure:"driver"`
	DSN             string   `mapstructure:"dsn"`
	Table           string   `mapstructure:"table"`
	IDColumn        string   `mapstructure:"id_column"`
	Columns         []string `mapstructure:"columns"`
	MaxOpenConns    int      `mapstructure:"max_open_conns"`
	ConnMaxLifetime string   `mapstructure:"conn_max_lifetime"`
}

func (p *SQLParams) validate() error {
	switch p.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fault.Validation("batch", "unsupported driver %q", p.Driver)
	}
	if p.DSN == "" {
		return fault.Validation("batch", "dsn is required")
	}
	if p.Table == "" {
		return fault.Validation("batch", "table is required")
	}
	if p.IDColumn == "" {
		p.IDColumn = "id"
	}
	return nil
}

// SQLFetcher reads records over database/sql, pooling one connection per
// distinct DSN.
type SQLFetcher struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewSQLFetcher() *SQLFetcher {
	return &SQLFetcher{pools: make(map[string]*sql.DB)}
}

var _ Fetcher = (*SQLFetcher)(nil)

func (f *SQLFetcher) Fetch(ctx context.Context, source DataSource, since time.Time) ([]Record, error) {
	var params SQLParams
	if err := mapstructure.Decode(source.ConnectionParams, &params); err != nil {
		return nil, fault.Validation("batch", "decode connection params for %s: %v", source.Name, err)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	db, err := f.pool(params)
	if err != nil {
		return nil, err
	}

	query, args := buildQuery(params, source.IncrementalField, since)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Unavailable("batch", "query %s: %v", source.Name, err)
	}
	defer rows.Close()

	return scanRecords(rows, params.IDColumn)
}

func (f *SQLFetcher) pool(params SQLParams) (*sql.DB, error) {
	key := params.Driver + "|" + params.DSN

	f.mu.Lock()
	defer f.mu.Unlock()
	if db, ok := f.pools[key]; ok {
		return db, nil
	}

	db, err := sql.Open(params.Driver, params.DSN)
	if err != nil {
		return nil, fault.Unavailable("batch", "open %s: %v", params.Driver, err)
	}
	if params.MaxOpenConns > 0 {
		db.SetMaxOpenConns(params.MaxOpenConns)
	}
	if params.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(params.ConnMaxLifetime); err == nil {
			db.SetConnMaxLifetime(d)
		}
	}
	f.pools[key] = db
	return db, nil
}

func (f *SQLFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for key, db := range f.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.pools, key)
	}
	return firstErr
}

// buildQuery selects the configured columns, constraining by the incremental
// field when a since bound is given. postgres uses numbered placeholders.
func buildQuery(params SQLParams, incrementalField string, since time.Time) (string, []interface{}) {
	cols := "*"
	if len(params.Columns) > 0 {
		selected := params.Columns
		if !contains(selected, params.IDColumn) {
			selected = append([]string{params.IDColumn}, selected...)
		}
		if incrementalField != "" && !contains(selected, incrementalField) {
			selected = append(selected, incrementalField)
		}
		cols = strings.Join(selected, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", cols, params.Table)
	var args []interface{}
	if incrementalField != "" && !since.IsZero() {
		placeholder := "?"
		if params.Driver == "postgres" {
			placeholder = "$1"
		}
		query += fmt.Sprintf(" WHERE %s > %s", incrementalField, placeholder)
		args = append(args, since)
	}
	query += fmt.Sprintf(" ORDER BY %s", params.IDColumn)
	return query, args
}

func scanRecords(rows *sql.Rows, idColumn string) ([]Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	idIdx := -1
	for i, col := range columns {
		if col == idColumn {
			idIdx = i
		}
	}
	if idIdx == -1 {
		return nil, fault.Validation("batch", "id column %q not in result set", idColumn)
	}

	var records []Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		fields := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			fields[col] = normalizeValue(values[i])
		}

		records = append(records, Record{
			ID:     fmt.Sprintf("%v", values[idIdx]),
			Fields: fields,
		})
	}
	return records, rows.Err()
}

// normalizeValue makes driver byte slices JSON-friendly.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

// recordDocument turns a fetched record into an indexable document. The JSON
// content lets the format probe classify it by its field names.
func recordDocument(source DataSource, record Record) (document.Document, error) {
	content, err := json.Marshal(record.Fields)
	if err != nil {
		return document.Document{}, fmt.Errorf("marshal record %s: %w", record.ID, err)
	}

	table := ""
	if t, ok := source.ConnectionParams["table"].(string); ok {
		table = t
	}

	return document.Document{
		ID:      fmt.Sprintf("%s_%s", source.Name, record.ID),
		Content: string(content),
		Source:  source.Name,
		Metadata: map[string]interface{}{
			"source":      source.Name,
			"source_type": string(source.Type),
			"table":       table,
			"record_id":   record.ID,
		},
		CreatedAt: time.Now(),
	}, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
