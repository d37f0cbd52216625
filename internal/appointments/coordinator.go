package appointments

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/smart-care-platform/internal/archive"
	"github.com/wolfman30/smart-care-platform/internal/directory"
	"github.com/wolfman30/smart-care-platform/internal/events"
	"github.com/wolfman30/smart-care-platform/internal/notify"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

var tracer = otel.Tracer("smartcare.internal.appointments")

// ActivityRecorder appends an audit trail entry.
type ActivityRecorder interface {
	Record(ctx context.Context, role, action, detail, actorID string) error
}

// SummaryArchiver stores a copy of a post-visit summary.
type SummaryArchiver interface {
	ArchiveSummary(ctx context.Context, record archive.SummaryRecord) (string, error)
}

// Coordinator owns every appointment mutation. Document writes are awaited;
// notifications, events and archives run in tracked background goroutines.
type Coordinator struct {
	store      store.Store
	directory  directory.Directory
	dispatcher notify.Dispatcher
	activity   ActivityRecorder
	events     events.Publisher
	archive    SummaryArchiver
	metrics    *metrics.AppointmentMetrics
	renderer   *notify.Renderer

	now             func() time.Time
	loc             *time.Location
	dispatchTimeout time.Duration
	baseURL         string
	logger          *logging.Logger

	wg       sync.WaitGroup
	inflight sync.Map
	locks    [lockStripes]sync.Mutex
}

const lockStripes = 64

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the wall clock used for timestamps and auto-completion.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the zone appointment dates and slots are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithEvents publishes lifecycle events after each persisted change.
func WithEvents(p events.Publisher) Option {
	return func(c *Coordinator) {
		c.events = p
	}
}

// WithArchive copies visit summaries to long-term storage.
func WithArchive(a SummaryArchiver) Option {
	return func(c *Coordinator) {
		c.archive = a
	}
}

// WithMetrics records transition and auto-completion counters on m.
func WithMetrics(m *metrics.AppointmentMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithDispatchTimeout bounds each background side effect.
func WithDispatchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.dispatchTimeout = d
		}
	}
}

// WithBaseURL prefixes deep links in emails.
func WithBaseURL(u string) Option {
	return func(c *Coordinator) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(u), "/")
	}
}

// NewCoordinator wires the collaborators. dispatcher and activity may be nil, in which
// case notifications and audit entries are skipped.
func NewCoordinator(st store.Store, dir directory.Directory, dispatcher notify.Dispatcher, activity ActivityRecorder, logger *logging.Logger, opts ...Option) *Coordinator {
	if st == nil {
		panic("appointments: store cannot be nil")
	}
	if dir == nil {
		dir = directory.NewStoreDirectory(st)
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{
		store:           st,
		directory:       dir,
		dispatcher:      dispatcher,
		activity:        activity,
		renderer:        notify.NewRenderer(),
		now:             time.Now,
		loc:             time.UTC,
		dispatchTimeout: 10 * time.Second,
		logger:          logger.Component("appointments"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Wait blocks until every background side effect launched so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// background runs fn detached from the caller's cancellation, bounded by the dispatch timeout.
func (c *Coordinator) background(ctx context.Context, name string, fn func(ctx context.Context)) {
	c.wg.Add(1)
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.dispatchTimeout)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("appointments: background task panicked",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn(bgCtx)
	}()
}

func (c *Coordinator) recordActivity(ctx context.Context, role Role, action, detail, actorID string) {
	if c.activity == nil {
		return
	}
	if role == "" {
		role = RoleSystem
	}
	if err := c.activity.Record(ctx, string(role), action, detail, actorID); err != nil {
		if notify.IsTimeout(err) {
			c.logger.Debug("appointments: activity log timed out", "error", err, "action", action)
			return
		}
		c.logger.Warn("appointments: activity log failed",
			"error", err,
			"action", action,
			"actor_role", string(role),
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, a *Appointment, action Action, from Status, role Role, actorID string) {
	if c.events == nil {
		return
	}
	evt := events.AppointmentChangedV1{
		AppointmentID: a.ID,
		Action:        string(action),
		FromStatus:    string(from),
		ToStatus:      string(a.Status),
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Date:          a.Date.String(),
		Time:          a.Time.String(),
		ActorRole:     string(role),
		ActorID:       actorID,
		OccurredAt:    c.now().UTC(),
	}
	c.background(ctx, "publish_event", func(ctx context.Context) {
		if err := c.events.PublishAppointmentChanged(ctx, evt); err != nil {
			c.logger.Warn("appointments: publish event failed",
				"error", err,
				"appointment_id", evt.AppointmentID,
				"action", evt.Action,
			)
		}
	})
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "appointments."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func (c *Coordinator) today() string {
	return c.now().In(c.loc).Format("2006-01-02")
}

// lockAppointment serializes read-modify-write cycles on one appointment within this
// process and returns the unlock func.
func (c *Coordinator) lockAppointment(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &c.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) load(ctx context.Context, id string) (*Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: appointment id required", ErrInvalidRequest)
	}
	doc, err := c.store.Get(ctx, store.CollectionAppointments, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeAppointment(doc)
}

func decodeAppointment(doc store.Document) (*Appointment, error) {
	var a Appointment
	if err := doc.Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Coordinator) link(path string) string {
	return c.baseURL + path
}

type participants struct {
	patient *directory.User
	doctor  *directory.User
}

func (p participants) user(role Role) *directory.User {
	if role == RoleDoctor {
		return p.doctor
	}
	return p.patient
}

// lookupParticipants resolves both profiles. Missing users or lookup errors leave nil entries.
func (c *Coordinator) lookupParticipants(ctx context.Context, a *Appointment) participants {
	var p participants
	var err error
	if p.patient, err = c.directory.GetUser(ctx, a.PatientID); err != nil {
		c.logger.Warn("appointments: patient lookup failed", "error", err, "patient_id", a.PatientID)
	}
	if p.doctor, err = c.directory.GetUser(ctx, a.DoctorID); err != nil {
		c.logger.Warn("appointments: doctor lookup failed", "error", err, "doctor_id", a.DoctorID)
	}
	return p
}

type channelSet struct {
	email bool
	inApp bool
	push  bool
}

// notice is one rendered message to one participant over a set of channels.
type notice struct {
	kind      messageKind
	recipient Role
	sender    Role
	channels  channelSet
	data      map[string]any
}

// deliver renders n and hands it to the dispatcher. Every failure stops at the
// dispatch boundary; the returned outcomes are for tests and logging only.
func (c *Coordinator) deliver(ctx context.Context, a *Appointment, p participants, n notice) []notify.Outcome {
	if c.dispatcher == nil {
		return nil
	}
	msg, err := c.renderMessage(n.kind, n.data)
	if err != nil {
		c.logger.Error("appointments: render notification failed", "error", err, "kind", string(n.kind))
		return nil
	}

	userID := a.PatientID
	if n.recipient == RoleDoctor {
		userID = a.DoctorID
	}
	recipient := p.user(n.recipient)
	path := dashboardPath(n.recipient)
	var icon string
	if sender := p.user(n.sender); sender != nil && n.sender != "" {
		icon = sender.PhotoURL
	}

	var outcomes []notify.Outcome
	if n.channels.email {
		var to, name string
		if recipient != nil {
			to, name = recipient.Email, recipient.Name()
		}
		body, err := c.renderEmail(recipientName(recipient), msg, c.link(path))
		if err != nil {
			c.logger.Error("appointments: render email failed", "error", err, "kind", string(n.kind))
		} else {
			outcomes = append(outcomes, c.dispatcher.Email(ctx, notify.EmailMessage{
				To:      to,
				ToName:  name,
				Subject: msg.Subject,
				Body:    body,
			}))
		}
	}
	if n.channels.inApp {
		_, out := c.dispatcher.InApp(ctx, notify.InAppMessage{
			UserID:     userID,
			Title:      msg.Subject,
			Message:    msg.Body,
			Type:       string(n.kind),
			ActionLink: path,
			ActionText: msg.ActionText,
			ImageURL:   icon,
			Metadata: notify.SanitizeMetadata(map[string]any{
				"appointmentId": a.ID,
				"status":        string(a.Status),
				"date":          a.Date.String(),
				"time":          a.Time.String(),
			}),
		})
		outcomes = append(outcomes, out)
	}
	if n.channels.push {
		var endpoint string
		if recipient != nil {
			endpoint = recipient.PushEndpoint
		}
		outcomes = append(outcomes, c.dispatcher.Push(ctx, notify.PushMessage{
			UserID:   userID,
			Endpoint: endpoint,
			Title:    msg.Subject,
			Body:     msg.Body,
			Tag:      "appointment-" + a.ID,
			Icon:     icon,
			Data: map[string]any{
				"appointmentId": a.ID,
				"url":           path,
			},
		}))
	}
	return outcomes
}

// GetAppointment returns the stored appointment.
func (c *Coordinator) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	a, err := c.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return a, nil
}
