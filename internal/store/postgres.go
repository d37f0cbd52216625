package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// ChangeChannel is the LISTEN/NOTIFY channel fed by the documents trigger.
const ChangeChannel = "documents_changed"

// ErrSubscriptionsDisabled is returned by Subscribe when no listener is configured.
var ErrSubscriptionsDisabled = errors.New("store: subscriptions not configured")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Listener delivers NOTIFY payloads for a channel until ctx is done.
type Listener interface {
	Listen(ctx context.Context, channel string, handle func(payload string)) error
}

// PostgresStore keeps documents as jsonb rows in the documents table.
type PostgresStore struct {
	db       DB
	listener Listener
	logger   *logging.Logger
}

// NewPostgresStore creates a store. listener may be nil, which disables Subscribe.
func NewPostgresStore(db DB, listener Listener, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{db: db, listener: listener, logger: logger}
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	plain, incs, err := normalize(fields)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(merge(nil, plain, incs))
	if err != nil {
		return "", fmt.Errorf("store: encode %s: %w", collection, err)
	}
	id := uuid.NewString()
	if _, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, data,
	); err != nil {
		return "", fmt.Errorf("store: create %s: %w", collection, err)
	}
	return id, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	return s.mergeWrite(ctx, collection, id, fields, false)
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return s.mergeWrite(ctx, collection, id, fields, true)
}

func (s *PostgresStore) mergeWrite(ctx context.Context, collection, id string, fields Fields, mustExist bool) error {
	plain, incs, err := normalize(fields)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin %s/%s: %w", collection, id, err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	existing := Fields{}
	err = tx.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if mustExist {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
	case err != nil:
		return fmt.Errorf("store: lock %s/%s: %w", collection, id, err)
	default:
		if existing, err = decodeFields(raw); err != nil {
			return err
		}
	}

	data, err := json.Marshal(merge(existing, plain, incs))
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, id, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, data,
	); err != nil {
		return fmt.Errorf("store: write %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters []Filter, order *Order) ([]Document, error) {
	query, args, err := buildSelect(collection, filters, order)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", collection, err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query %s: %w", collection, err)
	}
	return docs, nil
}

// Subscribe runs the query once, then again whenever the trigger reports a change in
// collection. The listener is restarted with backoff if its connection drops.
func (s *PostgresStore) Subscribe(ctx context.Context, collection string, filters []Filter, order *Order, onChange ChangeFunc) (Unsubscribe, error) {
	if s.listener == nil {
		return nil, ErrSubscriptionsDisabled
	}
	if onChange == nil {
		return nil, fmt.Errorf("store: subscribe: nil callback")
	}
	if _, _, err := buildSelect(collection, filters, order); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	emit := func() {
		docs, err := s.Query(subCtx, collection, filters, order)
		if err != nil {
			if subCtx.Err() == nil {
				s.logger.Error("store: subscription query failed", "error", err, "collection", collection)
			}
			return
		}
		onChange(docs)
	}

	go func() {
		emit()
		backoff := time.Second
		for subCtx.Err() == nil {
			err := s.listener.Listen(subCtx, ChangeChannel, func(payload string) {
				if payload == collection {
					emit()
				}
			})
			if subCtx.Err() != nil {
				return
			}
			s.logger.Warn("store: listener stopped, retrying", "error", err, "collection", collection, "backoff", backoff)
			select {
			case <-subCtx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			// catch up on anything missed while disconnected
			emit()
		}
	}()

	return Unsubscribe(cancel), nil
}

func buildSelect(collection string, filters []Filter, order *Order) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []any{collection}

	for _, f := range filters {
		if !fieldName.MatchString(f.Field) {
			return "", nil, fmt.Errorf("%w: field %q", ErrInvalidFilter, f.Field)
		}
		value, err := normalizeValue(f.Value)
		if err != nil {
			return "", nil, err
		}
		column := fmt.Sprintf("data->>'%s'", f.Field)

		switch f.Op {
		case OpIn:
			list, ok := value.([]any)
			if !ok {
				return "", nil, fmt.Errorf("%w: %q needs a list value", ErrInvalidFilter, f.Field)
			}
			texts := make([]string, 0, len(list))
			for _, v := range list {
				text, ok := textValue(v)
				if !ok {
					return "", nil, fmt.Errorf("%w: %q list value %v", ErrInvalidFilter, f.Field, v)
				}
				texts = append(texts, text)
			}
			args = append(args, texts)
			fmt.Fprintf(&b, " AND %s = ANY($%d)", column, len(args))
		case OpEq, OpNe, OpGte, OpLte:
			text, ok := textValue(value)
			if !ok {
				return "", nil, fmt.Errorf("%w: %q value %v", ErrInvalidFilter, f.Field, value)
			}
			args = append(args, text)
			if _, numeric := value.(float64); numeric && f.Op != OpEq && f.Op != OpNe {
				column = fmt.Sprintf("(%s)::numeric", column)
				args[len(args)-1] = value
			}
			op := string(f.Op)
			if f.Op == OpEq {
				op = "="
			}
			if f.Op == OpNe {
				fmt.Fprintf(&b, " AND %s IS DISTINCT FROM $%d", column, len(args))
				continue
			}
			fmt.Fprintf(&b, " AND %s %s $%d", column, op, len(args))
		default:
			return "", nil, fmt.Errorf("%w: operator %q", ErrInvalidFilter, f.Op)
		}
	}

	if order != nil && order.Field != "" {
		if !fieldName.MatchString(order.Field) {
			return "", nil, fmt.Errorf("%w: order field %q", ErrInvalidFilter, order.Field)
		}
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY data->>'%s' %s, id", order.Field, dir)
	} else {
		b.WriteString(" ORDER BY id")
	}
	return b.String(), args, nil
}

// textValue renders a JSON scalar the way ->> does.
func textValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}

func decodeFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("store: decode document: %w", err)
	}
	return fields, nil
}

var _ Store = (*PostgresStore)(nil)
