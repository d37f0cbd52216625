package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// ConnListener runs LISTEN on a dedicated connection outside the query pool.
type ConnListener struct {
	config *pgx.ConnConfig
}

// NewConnListener dials with a copy of config for every Listen call.
func NewConnListener(config *pgx.ConnConfig) *ConnListener {
	return &ConnListener{config: config}
}

// Listen blocks until ctx is done or the connection fails.
func (l *ConnListener) Listen(ctx context.Context, channel string, handle func(payload string)) error {
	conn, err := pgx.ConnectConfig(ctx, l.config.Copy())
	if err != nil {
		return fmt.Errorf("store: connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("store: listen %s: %w", channel, err)
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("store: wait for notification: %w", err)
		}
		handle(n.Payload)
	}
}

// SharedListener multiplexes every Listen call for a channel onto one call of the
// underlying listener, so a process holds a single LISTEN connection however many
// subscriptions are open. The upstream call starts with the first subscriber and stops
// with the last. When it fails every current subscriber's Listen returns that error.
type SharedListener struct {
	source Listener
	logger *logging.Logger

	mu     sync.Mutex
	nextID int
	pumps  map[string]*pump
}

type pump struct {
	cancel context.CancelFunc
	subs   map[int]*listenSub
}

type listenSub struct {
	handle func(string)
	errc   chan error
}

// NewSharedListener wraps source.
func NewSharedListener(source Listener, logger *logging.Logger) *SharedListener {
	if logger == nil {
		logger = logging.Default()
	}
	return &SharedListener{source: source, logger: logger, pumps: map[string]*pump{}}
}

func (l *SharedListener) Listen(ctx context.Context, channel string, handle func(payload string)) error {
	sub := &listenSub{handle: handle, errc: make(chan error, 1)}

	l.mu.Lock()
	p, ok := l.pumps[channel]
	if !ok {
		pumpCtx, cancel := context.WithCancel(context.Background())
		p = &pump{cancel: cancel, subs: map[int]*listenSub{}}
		l.pumps[channel] = p
		go l.run(pumpCtx, channel, p)
	}
	l.nextID++
	id := l.nextID
	p.subs[id] = sub
	l.mu.Unlock()

	select {
	case err := <-sub.errc:
		return err
	case <-ctx.Done():
		l.leave(channel, p, id)
		return ctx.Err()
	}
}

func (l *SharedListener) run(ctx context.Context, channel string, p *pump) {
	err := l.source.Listen(ctx, channel, func(payload string) {
		l.mu.Lock()
		handles := make([]func(string), 0, len(p.subs))
		for _, s := range p.subs {
			handles = append(handles, s.handle)
		}
		l.mu.Unlock()
		for _, h := range handles {
			h(payload)
		}
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pumps[channel] == p {
		delete(l.pumps, channel)
	}
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = fmt.Errorf("store: listener for %s stopped", channel)
	}
	l.logger.Warn("store: shared listener stopped", "error", err, "channel", channel, "subscribers", len(p.subs))
	for id, s := range p.subs {
		s.errc <- err
		delete(p.subs, id)
	}
}

func (l *SharedListener) leave(channel string, p *pump, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(p.subs, id)
	if len(p.subs) == 0 && l.pumps[channel] == p {
		delete(l.pumps, channel)
		p.cancel()
	}
}

var (
	_ Listener = (*ConnListener)(nil)
	_ Listener = (*SharedListener)(nil)
)
