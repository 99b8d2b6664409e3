// Package presence announces online/offline transitions and records them durably.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/frame"
	"github.com/matheus3301/relay/internal/metrics"
)

// Broadcaster delivers a frame to every live connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload any) (int, error)
}

// StateWriter persists a user's online flag and last-seen time.
type StateWriter interface {
	SetUserOnlineState(ctx context.Context, user int64, online bool, at time.Time) error
}

// OnlineChecker reports whether a user currently holds a connection.
// *registry.Registry satisfies it.
type OnlineChecker interface {
	IsOnline(user int64) bool
}

// Presence turns registry transitions into user_status_update frames.
// Transitions for one user run one at a time and settle on the registry's
// current answer, so the last announcement and the last durable write match
// the user's live connections.
type Presence struct {
	reg          OnlineChecker
	out          Broadcaster
	db           StateWriter
	bus          *bus.Bus
	logger       *zap.Logger
	m            *metrics.Metrics
	storeTimeout time.Duration
	now          func() time.Time

	mu        sync.Mutex
	announced map[int64]bool // users last announced online
	running   map[int64]bool // users with a settle in progress; true asks for another pass
}

// New creates a presence broadcaster. A zero storeTimeout means 5s.
func New(reg OnlineChecker, out Broadcaster, db StateWriter, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, storeTimeout time.Duration) *Presence {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Presence{
		reg:          reg,
		out:          out,
		db:           db,
		bus:          b,
		logger:       logger,
		m:            m,
		storeTimeout: storeTimeout,
		now:          time.Now,
		announced:    make(map[int64]bool),
		running:      make(map[int64]bool),
	}
}

// MarkOnline records online=true and last_seen=now. Failures are logged only.
func (p *Presence) MarkOnline(ctx context.Context, user int64) {
	p.write(ctx, user, true)
}

// UserOnline records online=true, then announces that user's first
// connection arrived.
func (p *Presence) UserOnline(ctx context.Context, user int64) {
	p.settle(ctx, user)
}

// UserOffline records online=false and last_seen=now, then announces that
// user's last connection left. Nothing happens if user reconnected first.
func (p *Presence) UserOffline(ctx context.Context, user int64) {
	p.settle(ctx, user)
}

// settle brings user's announced state in line with the registry. A call
// arriving while another settle for user is in progress, including one made
// from inside that settle's broadcast, only requests one more pass and
// returns at once.
func (p *Presence) settle(ctx context.Context, user int64) {
	p.mu.Lock()
	if _, busy := p.running[user]; busy {
		p.running[user] = true
		p.mu.Unlock()
		return
	}
	p.running[user] = false
	p.mu.Unlock()

	for {
		online := p.reg.IsOnline(user)
		p.mu.Lock()
		changed := p.announced[user] != online
		p.mu.Unlock()

		if changed {
			p.write(ctx, user, online)
			p.announce(ctx, user, online)
			p.mu.Lock()
			if online {
				p.announced[user] = true
			} else {
				delete(p.announced, user)
			}
			p.mu.Unlock()
		}

		p.mu.Lock()
		if !p.running[user] {
			delete(p.running, user)
			p.mu.Unlock()
			return
		}
		p.running[user] = false
		p.mu.Unlock()
	}
}

func (p *Presence) write(ctx context.Context, user int64, online bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
	defer cancel()
	if err := p.db.SetUserOnlineState(ctx, user, online, p.now()); err != nil {
		p.logger.Warn("persist online state failed",
			zap.Int64("user_id", user),
			zap.Bool("online", online),
			zap.Error(err),
		)
	}
}

func (p *Presence) announce(ctx context.Context, user int64, online bool) {
	p.m.Presence(online)
	kind := bus.KindPresenceOffline
	if online {
		kind = bus.KindPresenceOnline
	}
	p.bus.Emit(kind, bus.PresenceChanged{UserID: user, Online: online})

	n, err := p.out.Broadcast(ctx, frame.NewStatusUpdate(user, online))
	if err != nil {
		p.logger.Error("broadcast status failed", zap.Int64("user_id", user), zap.Error(err))
		return
	}
	p.logger.Info("presence changed",
		zap.Int64("user_id", user),
		zap.Bool("online", online),
		zap.Int("recipients", n),
	)
}
