package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

func TestService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(db)
	fixed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	tests := []struct {
		name    string
		role    string
		action  string
		detail  string
		actorID string
		wantErr bool
	}{
		{name: "patient request", role: RolePatient, action: "appointment_created", detail: "Requested appointment with Dr. House", actorID: "p1"},
		{name: "doctor decline", role: RoleDoctor, action: "appointment_declined", detail: "schedule conflict", actorID: "d1"},
		{name: "system without actor", role: "", action: "appointment_auto_completed"},
		{name: "missing action", role: RoleDoctor, action: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.wantErr {
				role := tt.role
				if role == "" {
					role = RoleSystem
				}
				mock.ExpectExec("INSERT INTO appointment_activity").
					WithArgs(sqlmock.AnyArg(), role, nullString(tt.actorID), tt.action, nullString(tt.detail), fixed).
					WillReturnResult(sqlmock.NewResult(1, 1))
			}
			err := svc.Record(context.Background(), tt.role, tt.action, tt.detail, tt.actorID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingAction)
				return
			}
			assert.NoError(t, err)
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RecordDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO appointment_activity").WillReturnError(errors.New("connection reset"))
	err = NewService(db).Record(context.Background(), RoleDoctor, "appointment_approved", "", "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: log event")
}

func TestService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "actor_role", "actor_id", "action", "detail", "created_at"}).
		AddRow("e1", RoleDoctor, "d1", "appointment_approved", nil, created).
		AddRow("e2", RolePatient, nil, "appointment_created", "Requested", created.Add(-time.Hour))

	mock.ExpectQuery(`SELECT .* FROM appointment_activity\s+WHERE 1=1 AND actor_role = ANY\(\$1\) AND action = ANY\(\$2\) AND created_at >= \$3 ORDER BY created_at DESC LIMIT 10 OFFSET 5`).
		WithArgs(pq.Array([]string{RoleDoctor, RolePatient}), pq.Array([]string{"appointment_approved", "appointment_created"}), start).
		WillReturnRows(rows)

	events, err := NewService(db).QueryEvents(context.Background(), Filter{
		Roles:     []string{RoleDoctor, RolePatient},
		Actions:   []string{"appointment_approved", "appointment_created"},
		StartTime: start,
		Limit:     10,
		Offset:    5,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "d1", events[0].ActorID)
	assert.Empty(t, events[0].Detail)
	assert.Empty(t, events[1].ActorID)
	assert.Equal(t, "Requested", events[1].Detail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_QueryEventsByActor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE 1=1 AND actor_id = \$1 ORDER BY created_at DESC$`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_role", "actor_id", "action", "detail", "created_at"}))

	events, err := NewService(db).QueryEvents(context.Background(), Filter{ActorID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewLogRecorder(logging.NewWithFormat("info", "json", &buf))
	require.NoError(t, rec.Record(context.Background(), RoleDoctor, "appointment_cancelled", "patient no-show", "d1"))
	assert.Contains(t, buf.String(), `"action":"appointment_cancelled"`)
	assert.Contains(t, buf.String(), `"component":"audit"`)
	assert.ErrorIs(t, rec.Record(context.Background(), RoleDoctor, "", "", ""), ErrMissingAction)
}
