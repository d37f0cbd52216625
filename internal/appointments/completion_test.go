package appointments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/smart-care-platform/internal/calendar"
	"github.com/wolfman30/smart-care-platform/internal/store"
)

func TestCheckAndUpdateIsNoOpForIneligible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]Appointment{
		"pending in the past":   {ID: "a-1", Status: StatusPending, Date: calendar.MustNormalize("2025-03-01"), Time: calendar.Slot0900},
		"declined in the past":  {ID: "a-2", Status: StatusDeclined, Date: calendar.MustNormalize("2025-03-01"), Time: calendar.Slot0900},
		"approved later today":  {ID: "a-3", Status: StatusApproved, Date: calendar.MustNormalize("2025-03-10"), Time: calendar.Slot1400},
		"approved next week":    {ID: "a-4", Status: StatusApproved, Date: calendar.MustNormalize("2025-03-17"), Time: calendar.Slot0900},
		"unparsable slot label": {ID: "a-5", Status: StatusApproved, Date: calendar.MustNormalize("2025-03-01"), Time: calendar.Slot("noon")},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			changed, err := h.coord.CheckAndUpdateAppointmentStatus(ctx, &a)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.NotEqual(t, StatusCompleted, a.Status)
		})
	}

	docs, err := h.store.Query(ctx, store.CollectionAppointments, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, docs, "no document may be written")
	assert.Empty(t, h.activity.entries)
}

func TestCheckAndUpdateCompletesPastApproved(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a-1", StatusApproved, "2025-03-10", "9:30 AM")
	a := h.stored(t, "a-1")

	changed, err := h.coord.CheckAndUpdateAppointmentStatus(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusCompleted, a.Status)

	stored := h.stored(t, "a-1")
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.True(t, stored.AutoCompleted)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(testNow))

	h.coord.Wait()
	emails, pushes, inApps := h.dispatcher.snapshot()
	assert.Empty(t, emails)
	assert.Empty(t, pushes)
	assert.Empty(t, inApps)
	assert.Equal(t, "system", h.activity.last().role)
	assert.Equal(t, []string{"auto_complete"}, h.events.actions())
	assert.Equal(t, 1.0, h.counter(t, "smartcare_appointments_auto_completed_total", map[string]string{"source": "check"}))
}

func TestCheckAndUpdateHonoursLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 10:00 UTC is 6:00 AM in New York, so a 9:00 AM slot today has not started there.
	h := newHarness(t, WithLocation(ny))
	h.seed(t, "a-1", StatusApproved, "2025-03-10", "9:00 AM")

	changed, err := h.coord.CheckAndUpdateAppointmentStatus(context.Background(), h.stored(t, "a-1"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBatchCheckReturnsUpdatedCopy(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "past", StatusApproved, "2025-03-09", "4:30 PM")
	h.seed(t, "future", StatusApproved, "2025-03-11", "9:00 AM")
	h.seed(t, "legacy", StatusConfirmed, "2025-03-08", "11:00 AM")

	in := []Appointment{*h.stored(t, "past"), *h.stored(t, "future"), *h.stored(t, "legacy"), {ID: "ghost", Status: StatusApproved, Date: calendar.MustNormalize("2025-03-01"), Time: calendar.Slot0900}}
	out := h.coord.BatchCheckAppointmentStatus(context.Background(), in)

	require.Len(t, out, 4)
	assert.Equal(t, StatusCompleted, out[0].Status)
	assert.Equal(t, StatusApproved, out[1].Status)
	assert.Equal(t, StatusCompleted, out[2].Status)
	assert.Equal(t, StatusApproved, out[3].Status, "failed writes leave the entry unchanged")
	assert.Equal(t, StatusApproved, in[0].Status, "input is not modified")

	assert.Equal(t, StatusCompleted, h.stored(t, "legacy").Status)
	assert.Equal(t, StatusApproved, h.stored(t, "future").Status)
}

func TestAutoCompleteNeverOverwritesNewerReschedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "a-1", StatusApproved, "2025-03-09", "9:00 AM")
	stale := *h.stored(t, "a-1")

	_, err := h.coord.RescheduleAppointment(ctx, "a-1", RescheduleRequest{Date: "2025-03-20", Time: "10:00 AM", By: RolePatient})
	require.NoError(t, err)

	h.coord.completeLazily(ctx, []Appointment{stale}, sourceList)
	h.coord.Wait()

	snapshot := stale
	changed, err := h.coord.CheckAndUpdateAppointmentStatus(ctx, &snapshot)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusPending, snapshot.Status, "the caller's copy is refreshed from the store")

	stored := h.stored(t, "a-1")
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, "2025-03-20", stored.Date.String())
	assert.Equal(t, calendar.Slot("10:00 AM"), stored.Time)
	assert.False(t, stored.AutoCompleted)
	assert.Zero(t, h.counter(t, "smartcare_appointments_auto_completed_total", map[string]string{"source": "list"}))
}

func TestSweepPastDue(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "yesterday", StatusApproved, "2025-03-09", "2:00 PM")
	h.seed(t, "this-morning", StatusApproved, "2025-03-10", "9:00 AM")
	h.seed(t, "this-afternoon", StatusApproved, "2025-03-10", "2:00 PM")
	h.seed(t, "tomorrow", StatusApproved, "2025-03-11", "9:00 AM")
	h.seed(t, "legacy", StatusConfirmed, "2025-03-01", "9:00 AM")
	h.seed(t, "pending", StatusPending, "2025-03-01", "9:00 AM")

	n, err := h.coord.SweepPastDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for id, want := range map[string]Status{
		"yesterday":      StatusCompleted,
		"this-morning":   StatusCompleted,
		"this-afternoon": StatusApproved,
		"tomorrow":       StatusApproved,
		"legacy":         StatusCompleted,
		"pending":        StatusPending,
	} {
		assert.Equal(t, want, h.stored(t, id).Status, id)
	}
	assert.Equal(t, 3.0, h.counter(t, "smartcare_appointments_auto_completed_total", map[string]string{"source": "sweep"}))

	n, err = h.coord.SweepPastDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep finds nothing")
}

func TestGetUserAppointmentsCompletesPastDueLazily(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "past", StatusApproved, "2025-03-09", "9:00 AM")
	h.seed(t, "next", StatusApproved, "2025-03-12", "9:00 AM")
	require.NoError(t, h.store.Set(context.Background(), store.CollectionAppointments, "other", store.Fields{
		"patientId": "someone-else", "doctorId": doctorID, "date": "2025-03-12", "time": "9:30 AM", "status": "pending",
	}))

	var mu sync.Mutex
	var emissions [][]Appointment
	unsubscribe, err := h.coord.GetUserAppointments(context.Background(), patientID, RolePatient, func(list []Appointment) {
		mu.Lock()
		defer mu.Unlock()
		emissions = append(emissions, list)
	})
	require.NoError(t, err)
	defer unsubscribe()

	mu.Lock()
	require.NotEmpty(t, emissions)
	first := emissions[0]
	mu.Unlock()

	require.Len(t, first, 2)
	assert.Equal(t, "next", first[0].ID, "newest date first")
	assert.Equal(t, "past", first[1].ID)
	assert.Equal(t, StatusCompleted, first[1].Status)
	assert.True(t, first[1].AutoCompleted)
	assert.Equal(t, StatusApproved, first[0].Status)

	h.coord.Wait()
	stored := h.stored(t, "past")
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.True(t, stored.AutoCompleted)
	assert.Equal(t, 1.0, h.counter(t, "smartcare_appointments_auto_completed_total", map[string]string{"source": "subscription"}))

	mu.Lock()
	defer mu.Unlock()
	latest := emissions[len(emissions)-1]
	for _, a := range latest {
		if a.ID == "past" {
			assert.Equal(t, StatusCompleted, a.Status)
		}
	}
}

func TestGetUserAppointmentsRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.GetUserAppointments(context.Background(), patientID, RoleAdmin, func([]Appointment) {})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.coord.GetUserAppointments(context.Background(), patientID, RolePatient, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestListUserAppointmentsSortsAndCompletes(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "early", StatusApproved, "2025-03-12", "9:00 AM")
	h.seed(t, "late", StatusPending, "2025-03-12", "3:00 PM")
	h.seed(t, "old", StatusApproved, "2025-02-28", "9:00 AM")

	list, err := h.coord.ListUserAppointments(context.Background(), doctorID, RoleDoctor)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"late", "early", "old"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, StatusCompleted, list[2].Status)

	h.coord.Wait()
	assert.Equal(t, StatusCompleted, h.stored(t, "old").Status)
}
