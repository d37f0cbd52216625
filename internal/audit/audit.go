// Package audit records the appointment activity trail, one row per actor action.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Actor roles.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
	RoleSystem  = "system"
)

// Event is an immutable activity record.
type Event struct {
	ID        string    `json:"id"`
	ActorRole string    `json:"actor_role"`
	ActorID   string    `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter specifies criteria for QueryEvents. Empty fields are ignored.
type Filter struct {
	ActorID   string
	Roles     []string
	Actions   []string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

var ErrMissingAction = errors.New("audit: action required")

// Service persists activity to the appointment_activity table.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Record appends one entry attributed to role.
func (s *Service) Record(ctx context.Context, role, action, detail, actorID string) error {
	return s.LogEvent(ctx, Event{ActorRole: role, ActorID: actorID, Action: action, Detail: detail})
}

func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return ErrMissingAction
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if event.ActorRole == "" {
		event.ActorRole = RoleSystem
	}

	query := `
		INSERT INTO appointment_activity (
			id, actor_role, actor_id, action, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.ActorRole,
		nullString(event.ActorID),
		event.Action,
		nullString(event.Detail),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: log event: %w", err)
	}
	return nil
}

// QueryEvents returns matching events, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, actor_role, actor_id, action, detail, created_at
		FROM appointment_activity
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if len(filter.Roles) > 0 {
		query += fmt.Sprintf(" AND actor_role = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.Roles))
		argIdx++
	}
	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.Actions))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actorID, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.ActorRole, &actorID, &e.Action, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.ActorID = actorID.String
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}

// LogRecorder writes activity to the structured log. Used when no database is configured.
type LogRecorder struct {
	logger *logging.Logger
}

func NewLogRecorder(logger *logging.Logger) *LogRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogRecorder{logger: logger.Component("audit")}
}

func (r *LogRecorder) Record(_ context.Context, role, action, detail, actorID string) error {
	if strings.TrimSpace(action) == "" {
		return ErrMissingAction
	}
	r.logger.Info("activity", "actor_role", role, "actor_id", actorID, "action", action, "detail", detail)
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
