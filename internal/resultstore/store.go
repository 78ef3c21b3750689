package resultstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound means the read succeeded and no matching record exists. It is
// deliberately distinct from read errors: absence keeps a poll loop waiting,
// a failing store counts against the error budget.
var ErrNotFound = errors.New("resultstore: no matching record")

// ErrNoIdentity means the caller holds no owner key at all. Reads without an
// identity are refused outright rather than widened to other users' records.
var ErrNoIdentity = errors.New("resultstore: no session identity")

// Owner is the identity pair records are scoped by. Either half may be
// empty; both empty means no read is possible.
type Owner struct {
	ID    string
	Email string
}

func (o Owner) Empty() bool {
	return strings.TrimSpace(o.ID) == "" && strings.TrimSpace(o.Email) == ""
}

// FieldValue is one column of a result record. The slice form (rather than a
// map) keeps the store's column order, which is also the display order.
type FieldValue struct {
	Name  string
	Value any
}

// Record is one externally produced artifact. Fields carries every column in
// store order with alias-normalized names; the identifying columns are also
// lifted out for correlation.
type Record struct {
	ID         string
	CreatedAt  time.Time
	OwnerID    string
	OwnerEmail string
	Fields     []FieldValue
}

// Field returns the value of a canonical field name.
func (r Record) Field(name string) (any, bool) {
	name = CanonicalField(name)
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// StringField returns a field as a trimmed string, or "" when absent or not
// a string.
func (r Record) StringField(name string) string {
	v, ok := r.Field(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

var tablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const (
	historyDefaultLimit = 10
	historyMaxLimit     = 50
)

// Store reads and deletes result records in the external record store. It
// never inserts or updates them; the workflow engine owns writes.
type Store struct {
	logger *slog.Logger
	db     *sql.DB
}

func New(logger *slog.Logger, db *sql.DB) *Store {
	return &Store{logger: logger, db: db}
}

// Latest returns the most recent record owned by owner with a creation
// instant at or after since. A zero since disables the time predicate.
func (s *Store) Latest(ctx context.Context, table string, owner Owner, since time.Time) (Record, error) {
	records, err := s.query(ctx, table, owner, since, 1)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

// History returns up to limit records owned by owner, most recent first.
func (s *Store) History(ctx context.Context, table string, owner Owner, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}
	return s.query(ctx, table, owner, time.Time{}, limit)
}

// Delete removes one record by id, scoped by owner so a session can never
// delete another user's record. Returns the number of rows removed.
func (s *Store) Delete(ctx context.Context, table string, id string, owner Owner) (int64, error) {
	if err := validTable(table); err != nil {
		return 0, err
	}
	if owner.Empty() {
		return 0, ErrNoIdentity
	}
	if strings.TrimSpace(id) == "" {
		return 0, errors.New("resultstore: record id is required")
	}

	predicate, args := ownerPredicate(owner, 2)
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND %s`, table, predicate)
	args = append([]any{id}, args...)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func (s *Store) query(ctx context.Context, table string, owner Owner, since time.Time, limit int) ([]Record, error) {
	if err := validTable(table); err != nil {
		return nil, err
	}
	if owner.Empty() {
		return nil, ErrNoIdentity
	}

	predicate, args := ownerPredicate(owner, 1)
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s`, table, predicate)
	if !since.IsZero() {
		args = append(args, since.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	out := make([]Record, 0, limit)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, buildRecord(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func buildRecord(columns []string, values []any) Record {
	record := Record{Fields: make([]FieldValue, 0, len(columns))}
	for i, column := range columns {
		value := normalizeValue(values[i])
		name := CanonicalField(column)
		record.Fields = append(record.Fields, FieldValue{Name: name, Value: value})

		switch name {
		case "id":
			record.ID = valueString(value)
		case "created_at":
			if t, ok := value.(time.Time); ok {
				record.CreatedAt = t.UTC()
			}
		case "user_id":
			record.OwnerID = valueString(value)
		case "user_email":
			record.OwnerEmail = valueString(value)
		}
	}
	return record
}

func normalizeValue(v any) any {
	switch typed := v.(type) {
	case []byte:
		return string(typed)
	default:
		return v
	}
}

func valueString(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case int64:
		return fmt.Sprintf("%d", typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", typed))
	}
}

func ownerPredicate(owner Owner, firstArg int) (string, []any) {
	id := strings.TrimSpace(owner.ID)
	email := strings.TrimSpace(owner.Email)
	switch {
	case id != "" && email != "":
		return fmt.Sprintf("(user_id = $%d OR user_email = $%d)", firstArg, firstArg+1), []any{id, email}
	case id != "":
		return fmt.Sprintf("user_id = $%d", firstArg), []any{id}
	default:
		return fmt.Sprintf("user_email = $%d", firstArg), []any{email}
	}
}

func validTable(table string) error {
	if !tablePattern.MatchString(table) {
		return fmt.Errorf("resultstore: invalid table name %q", table)
	}
	return nil
}
