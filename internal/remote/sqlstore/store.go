// Package sqlstore implements remote.Store directly against a SQL database.
// MySQL is the production target; any database/sql driver with an upsert
// dialect known to this package can back it.
package sqlstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
)

// IDColumn is the primary key column of every synced table.
const IDColumn = "id"

// pkParam is the named parameter that carries the record id. Column names
// must start with a letter, so it never collides with one.
const pkParam = "_pk"

var columnPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Config holds database connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store implements remote.Store over sqlx.
type Store struct {
	db *sqlx.DB
}

var _ remote.Store = (*Store)(nil)

// Open connects to MySQL using config.DSN.
func Open(config Config) (*Store, error) {
	dsn, err := mysql.ParseDSN(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	dsn.ParseTime = true

	db, err := sqlx.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes a record. Payloads carrying an id are upserted so a
// replayed create does not fail on the primary key.
func (s *Store) Insert(ctx context.Context, table models.Table, data models.Payload) error {
	args, cols, err := decodeColumns(table, data)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return &remote.Error{Message: "insert payload has no columns"}
	}

	params := make([]string, len(cols))
	for i, c := range cols {
		params[i] = ":" + c
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(string(table)), joinQuoted(cols), strings.Join(params, ", "))

	if _, ok := args[IDColumn]; ok {
		query += s.upsertClause(cols)
	}

	_, err = s.db.NamedExecContext(ctx, query, args)
	return classify(err)
}

// Update sets the payload columns on the record with recordID.
func (s *Store) Update(ctx context.Context, table models.Table, recordID string, data models.Payload) error {
	args, cols, err := decodeColumns(table, data)
	if err != nil {
		return err
	}
	delete(args, IDColumn)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == IDColumn {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = :%s", quote(c), c))
	}
	if len(sets) == 0 {
		return nil
	}
	args[pkParam] = recordID

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s",
		quote(string(table)), strings.Join(sets, ", "), quote(IDColumn), pkParam)
	_, err = s.db.NamedExecContext(ctx, query, args)
	return classify(err)
}

// Delete removes the record with recordID. Deleting a missing record
// succeeds.
func (s *Store) Delete(ctx context.Context, table models.Table, recordID string) error {
	if err := remote.ValidateTable(table); err != nil {
		return err
	}
	query := s.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(string(table)), quote(IDColumn)))
	_, err := s.db.ExecContext(ctx, query, recordID)
	return classify(err)
}

func (s *Store) upsertClause(cols []string) string {
	updates := make([]string, 0, len(cols))
	switch s.db.DriverName() {
	case "mysql":
		for _, c := range cols {
			if c != IDColumn {
				updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", quote(c), quote(c)))
			}
		}
		if len(updates) == 0 {
			return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", quote(IDColumn), quote(IDColumn))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	default:
		for _, c := range cols {
			if c != IDColumn {
				updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
			}
		}
		if len(updates) == 0 {
			return fmt.Sprintf(" ON CONFLICT(%s) DO NOTHING", quote(IDColumn))
		}
		return fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", quote(IDColumn), strings.Join(updates, ", "))
	}
}

// decodeColumns validates table and turns a JSON object payload into named
// arguments, with the column names sorted for stable statements. Nested
// objects and arrays are stored as JSON text.
func decodeColumns(table models.Table, data models.Payload) (map[string]interface{}, []string, error) {
	if err := remote.ValidateTable(table); err != nil {
		return nil, nil, err
	}

	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, nil, &remote.Error{Message: fmt.Sprintf("payload is not a JSON object: %v", err)}
		}
	}

	args := make(map[string]interface{}, len(fields))
	cols := make([]string, 0, len(fields))
	for name, raw := range fields {
		if !columnPattern.MatchString(name) {
			return nil, nil, &remote.Error{Message: fmt.Sprintf("invalid column name %q", name)}
		}
		value, err := columnValue(raw)
		if err != nil {
			return nil, nil, &remote.Error{Message: fmt.Sprintf("column %s: %v", name, err)}
		}
		args[name] = value
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return args, cols, nil
}

func columnValue(raw json.RawMessage) (interface{}, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	switch trimmed[0] {
	case '{', '[':
		return trimmed, nil
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 't', 'f':
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	default:
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, nil
		}
		return strconv.ParseFloat(trimmed, 64)
	}
}

func quote(ident string) string {
	return "`" + ident + "`"
}

func joinQuoted(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

// classify maps driver errors to remote.Error or connectivity failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if stderrors.Is(err, mysql.ErrInvalidConn) || stderrors.Is(err, driver.ErrBadConn) || remote.IsConnectivity(err) {
		return remote.Offline(err)
	}
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return &remote.Error{Message: mysqlErr.Message, Code: strconv.Itoa(int(mysqlErr.Number))}
	}
	return &remote.Error{Message: err.Error()}
}
