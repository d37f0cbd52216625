package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apptFixture struct {
	ID       string `json:"id"`
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
	Status   string `json:"status"`
}

func seed(t *testing.T, s Store) map[string]string {
	t.Helper()
	ctx := context.Background()
	ids := map[string]string{}
	for name, f := range map[string]Fields{
		"a": {"doctorId": "d1", "date": "2025-03-10", "time": "9:00 AM", "status": "pending"},
		"b": {"doctorId": "d1", "date": "2025-03-11", "time": "9:00 AM", "status": "approved"},
		"c": {"doctorId": "d1", "date": "2025-03-10", "time": "1:00 PM", "status": "cancelled"},
		"d": {"doctorId": "d2", "date": "2025-03-09", "time": "9:30 AM", "status": "approved"},
	} {
		id, err := s.Create(ctx, CollectionAppointments, f)
		require.NoError(t, err)
		ids[name] = id
	}
	return ids
}

func TestMemoryStoreGetCreateUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Create(ctx, CollectionAppointments, Fields{"status": "pending", "notifications": map[string]bool{"patient": false, "doctor": true}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.Update(ctx, CollectionAppointments, id, Fields{"status": "approved"}))

	doc, err := s.Get(ctx, CollectionAppointments, id)
	require.NoError(t, err)
	assert.Equal(t, "approved", doc.Fields["status"])
	assert.Equal(t, map[string]any{"patient": false, "doctor": true}, doc.Fields["notifications"])

	var decoded apptFixture
	require.NoError(t, doc.Decode(&decoded))
	assert.Equal(t, id, decoded.ID)
	assert.Equal(t, "approved", decoded.Status)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, CollectionAppointments, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Update(ctx, CollectionAppointments, "missing", Fields{"status": "approved"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, CollectionDoctorAvailability, "doc-1", Fields{"unavailableDates": []string{"2025-03-10"}}))
	doc, err := s.Get(ctx, CollectionDoctorAvailability, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []any{"2025-03-10"}, doc.Fields["unavailableDates"])
}

func TestMemoryStoreIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, CollectionUsers, "u1", Fields{"email": "p@example.com"}))

	require.NoError(t, s.Update(ctx, CollectionUsers, "u1", Fields{"unreadNotifications": Increment(1)}))
	require.NoError(t, s.Update(ctx, CollectionUsers, "u1", Fields{"unreadNotifications": Increment(2)}))

	doc, err := s.Get(ctx, CollectionUsers, "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), doc.Fields["unreadNotifications"])
	assert.Equal(t, "p@example.com", doc.Fields["email"])
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := seed(t, s)

	docs, err := s.Query(ctx, CollectionAppointments, []Filter{
		Where("doctorId", OpEq, "d1"),
		Where("date", OpEq, "2025-03-10"),
		Where("status", OpIn, []string{"pending", "approved"}),
	}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ids["a"], docs[0].ID)

	docs, err = s.Query(ctx, CollectionAppointments, []Filter{
		Where("date", OpLte, "2025-03-10"),
		Where("status", OpNe, "cancelled"),
	}, &Order{Field: "date", Desc: true})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, ids["a"], docs[0].ID)
	assert.Equal(t, ids["d"], docs[1].ID)

	_, err = s.Query(ctx, CollectionAppointments, []Filter{Where("status", OpIn, "pending")}, nil)
	assert.ErrorIs(t, err, ErrInvalidFilter)
	_, err = s.Query(ctx, CollectionAppointments, []Filter{Where("status", Op("like"), "p%")}, nil)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	var mu sync.Mutex
	var emissions [][]Document
	unsubscribe, err := s.Subscribe(ctx, CollectionAppointments, []Filter{Where("doctorId", OpEq, "d1")}, &Order{Field: "date"}, func(docs []Document) {
		mu.Lock()
		defer mu.Unlock()
		emissions = append(emissions, docs)
	})
	require.NoError(t, err)

	id, err := s.Create(ctx, CollectionAppointments, Fields{"doctorId": "d1", "date": "2025-03-10"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CollectionAppointments, Fields{"doctorId": "d2", "date": "2025-03-10"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CollectionNotifications, Fields{"userId": "d1"})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, emissions, 3, "initial, d1 create, d2 create")
	assert.Empty(t, emissions[0])
	assert.Len(t, emissions[1], 1)
	assert.Equal(t, id, emissions[1][0].ID)
	mu.Unlock()

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Update(ctx, CollectionAppointments, id, Fields{"status": "approved"}))
	mu.Lock()
	assert.Len(t, emissions, 3)
	mu.Unlock()
}

func TestMemoryStoreSubscribeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	calls := make(chan int, 10)
	_, err := s.Subscribe(ctx, CollectionUsers, nil, nil, func(docs []Document) { calls <- len(docs) })
	require.NoError(t, err)
	<-calls

	cancel()
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subs) == 0
	}, time.Second, 10*time.Millisecond)
}
