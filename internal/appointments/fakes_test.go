package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/smart-care-platform/internal/archive"
	"github.com/wolfman30/smart-care-platform/internal/directory"
	"github.com/wolfman30/smart-care-platform/internal/events"
	"github.com/wolfman30/smart-care-platform/internal/notify"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

const (
	patientID = "pat-1"
	doctorID  = "doc-1"
)

var testNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	users map[string]*directory.User
	err   error
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*directory.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users[id], nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	emails []notify.EmailMessage
	pushes []notify.PushMessage
	inApps []notify.InAppMessage
	fail   error
}

func (d *recordingDispatcher) outcome(ch notify.Channel, recipient string) notify.Outcome {
	if d.fail != nil {
		return notify.Outcome{Channel: ch, Recipient: recipient, Status: notify.StatusFailed, Err: d.fail}
	}
	return notify.Outcome{Channel: ch, Recipient: recipient, Status: notify.StatusDelivered}
}

func (d *recordingDispatcher) Email(_ context.Context, msg notify.EmailMessage) notify.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails = append(d.emails, msg)
	return d.outcome(notify.ChannelEmail, msg.To)
}

func (d *recordingDispatcher) Push(_ context.Context, msg notify.PushMessage) notify.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes = append(d.pushes, msg)
	return d.outcome(notify.ChannelPush, msg.UserID)
}

func (d *recordingDispatcher) InApp(_ context.Context, msg notify.InAppMessage) (string, notify.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inApps = append(d.inApps, msg)
	return "n-" + msg.UserID, d.outcome(notify.ChannelInApp, msg.UserID)
}

func (d *recordingDispatcher) snapshot() ([]notify.EmailMessage, []notify.PushMessage, []notify.InAppMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.EmailMessage(nil), d.emails...),
		append([]notify.PushMessage(nil), d.pushes...),
		append([]notify.InAppMessage(nil), d.inApps...)
}

type activityEntry struct {
	role, action, detail, actorID string
}

type recordingActivity struct {
	mu      sync.Mutex
	entries []activityEntry
	err     error
}

func (a *recordingActivity) Record(_ context.Context, role, action, detail, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, activityEntry{role: role, action: action, detail: detail, actorID: actorID})
	return a.err
}

func (a *recordingActivity) last() activityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return activityEntry{}
	}
	return a.entries[len(a.entries)-1]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.AppointmentChangedV1
}

func (r *recordingEvents) PublishAppointmentChanged(_ context.Context, evt events.AppointmentChangedV1) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingEvents) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []archive.SummaryRecord
}

func (f *fakeArchiver) ArchiveSummary(_ context.Context, record archive.SummaryRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return "summaries/v1/" + record.AppointmentID + ".json", nil
}

// flakyStore fails reads of one collection.
type flakyStore struct {
	store.Store
	failGet string
}

func (s *flakyStore) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if collection == s.failGet {
		return store.Document{}, errors.New("store unavailable")
	}
	return s.Store.Get(ctx, collection, id)
}

type harness struct {
	coord      *Coordinator
	store      *store.MemoryStore
	dispatcher *recordingDispatcher
	activity   *recordingActivity
	events     *recordingEvents
	archive    *fakeArchiver
	registry   *prometheus.Registry
	now        time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:      store.NewMemoryStore(),
		dispatcher: &recordingDispatcher{},
		activity:   &recordingActivity{},
		events:     &recordingEvents{},
		archive:    &fakeArchiver{},
		registry:   prometheus.NewRegistry(),
		now:        testNow,
	}
	dir := &fakeDirectory{users: map[string]*directory.User{
		patientID: {ID: patientID, Email: "pat@example.com", DisplayName: "Pat Jones", PhotoURL: "https://img/pat.png", PushEndpoint: "arn:aws:sns:us-east-1:1:endpoint/APNS/app/pat"},
		doctorID:  {ID: doctorID, Email: "house@example.com", DisplayName: "Gregory House", PhotoURL: "https://img/house.png", PushEndpoint: "arn:aws:sns:us-east-1:1:endpoint/GCM/app/house"},
	}}
	base := []Option{
		WithClock(func() time.Time { return h.now }),
		WithEvents(h.events),
		WithArchive(h.archive),
		WithMetrics(metrics.NewAppointmentMetrics(h.registry)),
		WithBaseURL("https://care.example.com/"),
	}
	h.coord = NewCoordinator(h.store, dir, h.dispatcher, h.activity, logging.Nop(), append(base, opts...)...)
	t.Cleanup(h.coord.Wait)
	return h
}

// seed writes an appointment document directly.
func (h *harness) seed(t *testing.T, id string, status Status, date, slot string) {
	t.Helper()
	require.NoError(t, h.store.Set(context.Background(), store.CollectionAppointments, id, store.Fields{
		"patientId":     patientID,
		"doctorId":      doctorID,
		"date":          date,
		"time":          slot,
		"mode":          "online",
		"type":          "Follow-up",
		"status":        string(status),
		"createdBy":     patientID,
		"autoCompleted": false,
		"notifications": map[string]any{"patient": false, "doctor": false},
	}))
}

func (h *harness) stored(t *testing.T, id string) *Appointment {
	t.Helper()
	a, err := h.coord.GetAppointment(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
