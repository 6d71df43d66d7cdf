package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/geoquest/internal/geoquest"
)

type ReplicationState int

const (
	StateIdle ReplicationState = iota
	StateSubscribing
	StateSubscribed
	StatePolling
	StateTornDown
)

func (s ReplicationState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StatePolling:
		return "POLLING"
	case StateTornDown:
		return "TORN_DOWN"
	}
	return "UNKNOWN"
}

type ReplicationConfig struct {
	// Grace is how long to wait for the feed to confirm before polling.
	Grace        time.Duration
	PollInterval time.Duration
}

// ReplicationController keeps one game's local mirror in sync while it is
// being edited or supervised. It owns exactly one feed subscription and at
// most one poller for the lifetime of Run.
type ReplicationController struct {
	gameID  string
	cfg     ReplicationConfig
	store   *LocalStore
	gateway Gateway
	feed    ChangeFeed
	guard   EditGuard
	logger  *slog.Logger
	onState func(ReplicationState)

	mu    sync.Mutex
	state ReplicationState
}

func NewReplicationController(gameID string, cfg ReplicationConfig, store *LocalStore, gateway Gateway,
	feed ChangeFeed, guard EditGuard, logger *slog.Logger) *ReplicationController {
	if guard == nil {
		guard = NoGuard
	}
	return &ReplicationController{
		gameID:  gameID,
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		feed:    feed,
		guard:   guard,
		logger:  logger.With("game_id", gameID),
	}
}

// OnStateChange registers fn to be called on every transition. It must be
// set before Run.
func (c *ReplicationController) OnStateChange(fn func(ReplicationState)) { c.onState = fn }

func (c *ReplicationController) State() ReplicationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ReplicationController) setState(s ReplicationState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.logger.Debug("replication state", "from", prev.String(), "to", s.String())
	if c.onState != nil {
		c.onState(s)
	}
}

// Run subscribes to the game's change feed and reconciles incoming
// snapshots until ctx is done. If the feed does not confirm within the
// grace window, or the stream ends, the game is polled instead. On return every timer is
// stopped and the subscription is released.
func (c *ReplicationController) Run(ctx context.Context) error {
	defer c.setState(StateTornDown)
	c.setState(StateSubscribing)

	events := make(chan geoquest.ChangeEvent, 16)
	var confirmed, ended <-chan struct{}

	sub, err := c.feed.Subscribe(ctx, geoquest.TableGames, c.gameID, func(ev geoquest.ChangeEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		c.logger.Warn("change feed subscribe failed", "error", err)
	} else {
		defer sub.Unsubscribe()
		confirmed = sub.Confirmed()
		ended = sub.Done()
	}

	grace := time.NewTimer(c.cfg.Grace)
	defer grace.Stop()
	graceC := grace.C

	var (
		poller *time.Ticker
		pollC  <-chan time.Time
	)
	stopPoller := func() {
		if poller != nil {
			poller.Stop()
			poller, pollC = nil, nil
		}
	}
	defer stopPoller()
	startPoller := func() {
		if poller == nil {
			poller = time.NewTicker(c.cfg.PollInterval)
			pollC = poller.C
		}
		c.setState(StatePolling)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-confirmed:
			confirmed = nil
			grace.Stop()
			graceC = nil
			stopPoller()
			c.setState(StateSubscribed)

		case <-graceC:
			graceC = nil
			c.logger.Info("change feed not confirmed, polling", "grace", c.cfg.Grace, "interval", c.cfg.PollInterval)
			startPoller()

		case <-ended:
			if ctx.Err() != nil {
				return nil
			}
			// The stream is gone for good in this scope; a late
			// confirmation can no longer arrive.
			ended, confirmed, graceC = nil, nil, nil
			grace.Stop()
			c.logger.Warn("change feed ended, polling", "interval", c.cfg.PollInterval)
			startPoller()

		case <-pollC:
			c.poll(ctx)

		case ev := <-events:
			c.handle(ev)
		}
	}
}

func (c *ReplicationController) poll(ctx context.Context) {
	g, err := c.gateway.FetchGame(ctx, c.gameID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("poll fetch failed", "error", err)
		}
		return
	}
	c.reconcile(g, "poll")
}

func (c *ReplicationController) handle(ev geoquest.ChangeEvent) {
	if ev.RowID() != c.gameID {
		return
	}
	switch ev.EventType {
	case geoquest.EventDelete:
		c.store.ApplyDelete(c.gameID)
		c.logger.Info("game deleted remotely")
	case geoquest.EventInsert, geoquest.EventUpdate:
		g, err := ev.Game()
		if err != nil {
			c.logger.Warn("decoding change event", "error", err)
			return
		}
		c.reconcile(g, "feed")
	}
}

func (c *ReplicationController) reconcile(g geoquest.Game, source string) {
	res := c.store.ApplySnapshot(g, c.guard)
	c.logger.Debug("snapshot reconciled", "source", source, "result", res.String(), "db_updated_at", g.DBUpdatedAt)
}
