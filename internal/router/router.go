// Package router implements the central broker described in spec
// §4.1: the single authoritative owner of the append-only message log,
// the agent registry, the channel registry, and every agent's outbound
// queue.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chorusrt/chorus/internal/bus"
	"github.com/chorusrt/chorus/internal/envelope"
	"github.com/chorusrt/chorus/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Config tunes the router's liveness monitor.
type Config struct {
	// HeartbeatPeriod is how often the router pings each registered
	// endpoint awaiting a heartbeat_ack.
	HeartbeatPeriod time.Duration
	// MaxMissedHeartbeats is N in "after N missed heartbeats the agent
	// is marked disconnected" (spec §4.1, default 3).
	MaxMissedHeartbeats int
	// RecipientRateLimit caps how many envelopes per second the router
	// delivers to any single recipient, smoothing bursts from a
	// misbehaving or looping agent without dropping messages (spec
	// §4.1's outbound queue is never-drop; this only paces delivery).
	// Zero disables throttling.
	RecipientRateLimit rate.Limit
	// RecipientRateBurst is the token bucket size backing
	// RecipientRateLimit.
	RecipientRateBurst int
}

// DefaultConfig matches spec §4.1's stated defaults (period 5s, N=3).
func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod:     5 * time.Second,
		MaxMissedHeartbeats: 3,
		RecipientRateLimit:  50,
		RecipientRateBurst:  100,
	}
}

// Router is the central broker process.
type Router struct {
	cfg      Config
	log      *Log
	registry *Registry
	logger   *observability.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// bus backs every agent's outbound queue (spec §4.1's per-recipient
	// never-drop queue) and the channel-subject broadcast used by
	// external observers. It is never nil: New gives every Router an
	// in-memory bus, and SetMessageBus swaps it for a NATS-backed one
	// per CHORUS_BUS_URL. Send/PullOutbound/Stop delegate to it
	// directly — it is the router's actual delivery path, not a mirror
	// alongside a separate queue implementation.
	bus bus.MessageBus

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Router. logger may be nil, in which case a default
// JSON logger is created.
func New(cfg Config, logger *observability.Logger) *Router {
	if logger == nil {
		logger = observability.NewLogger("router", slog.LevelInfo)
	}
	return &Router{
		cfg:      cfg,
		log:      NewLog(),
		registry: NewRegistry(),
		logger:   logger,
		bus:      bus.NewMemoryBus(),
		limiters: make(map[string]*rate.Limiter),
		stopCh:   make(chan struct{}),
	}
}

// SetMessageBus replaces the router's bus (spec §4.1's CHORUS_BUS_URL
// extension point), e.g. swapping the default in-memory bus for a
// NATS-backed one. It must be called before the router starts serving
// traffic — every per-agent queue created against the old bus would
// otherwise be orphaned — and is not safe to call concurrently with
// Send.
func (r *Router) SetMessageBus(b bus.MessageBus) {
	r.bus = b
}

func (r *Router) limiterFor(agentID string) *rate.Limiter {
	if r.cfg.RecipientRateLimit <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(r.cfg.RecipientRateLimit, r.cfg.RecipientRateBurst)
		r.limiters[agentID] = l
	}
	return l
}

// Log exposes the append-only message log (for request_state/dump_state
// handlers and tests).
func (r *Router) Log() *Log { return r.log }

// Registry exposes the agent/channel registry.
func (r *Router) Registry() *Registry { return r.registry }

func (r *Router) queueFor(agentID string) bus.EnvelopeQueue {
	return r.bus.Queue(agentID)
}

// Register implements spec §4.1's register operation. endpoint is
// informational (the agent is already connected over the TCP
// connection calling this); teamID, if non-empty, adds the agent to
// the named team's membership.
func (r *Router) Register(ctx context.Context, agentID, teamID, endpoint string) (*AgentRegistration, error) {
	_, span := observability.StartSpan(ctx, "router.Register")
	defer span.End()
	span.SetAttributes(attribute.String("chorus.agent.id", agentID), attribute.String("chorus.team.id", teamID))

	reg, err := r.registry.Register(agentID, teamID, endpoint)
	if err != nil {
		observability.RecordError(ctx, err)
		return nil, err
	}

	r.queueFor(agentID) // ensure a queue exists so Send never has to special-case it

	observability.AgentRegistrations.WithLabelValues(teamID).Inc()
	observability.ConnectedAgents.Set(float64(len(r.registry.ConnectedAgents())))
	r.logger.AgentRegistered(agentID, teamID, endpoint)

	return reg, nil
}

// Send implements the 5-step routing algorithm of spec §4.1.
func (r *Router) Send(ctx context.Context, env *envelope.Envelope) error {
	ctx, span := observability.StartSpan(ctx, "router.Send")
	defer span.End()

	// Step 1: assign message_id/timestamp if unset.
	if env.MessageID == "" || env.Timestamp == 0 {
		fresh := envelope.New(env.EventType, env.Source, env.Destination)
		if env.MessageID == "" {
			env.MessageID = fresh.MessageID
		}
		if env.Timestamp == 0 {
			env.Timestamp = fresh.Timestamp
		}
	}

	// Step 2: append to the global log.
	r.log.Append(env)
	observability.RouterLogSize.Set(float64(r.log.Len()))

	// Step 3: compute recipients.
	recipients := r.recipients(env)
	if len(recipients) == 0 {
		r.logger.MessageDropped(env.MessageID, env.Source, "no destination or channel")
		observability.MessagesDropped.WithLabelValues("no_recipient").Inc()
		return nil
	}

	// Step 4: enqueue to each recipient's outbound queue (FIFO, never
	// dropped, even for an agent not yet registered — spec §4.1 and
	// the "unknown destination" open question, resolved as queue+
	// deliver-on-registration). The queue is bus-backed: this is the
	// router's actual delivery path, not a store mirrored onto the bus
	// afterward.
	for _, recipient := range recipients {
		q := r.queueFor(recipient)
		if err := q.Push(ctx, env); err != nil {
			r.logger.Warn("outbound queue push failed", "recipient", recipient, "error", err)
			continue
		}
		if n, err := q.Len(ctx); err == nil {
			observability.OutboundQueueDepth.WithLabelValues(recipient).Set(float64(n))
		}
	}
	if env.Channel != "" {
		r.publishChannelSubject(ctx, env)
	}

	// Step 5: acknowledgement is implicit.
	observability.MessagesRouted.WithLabelValues(string(env.EventType)).Inc()
	r.logger.MessageRouted(env.MessageID, env.Source, env.Destination, env.Channel, len(recipients))

	return nil
}

// publishChannelSubject broadcasts channel traffic on the bus's
// external subject, for observers outside the per-agent queues above
// (a JetStream-backed audit consumer, a dashboard sidecar) — a
// secondary, best-effort feature layered on top of the real delivery
// in step 4, not a duplicate of it. Publish failures are logged, not
// returned: they never gate routing.
func (r *Router) publishChannelSubject(ctx context.Context, env *envelope.Envelope) {
	if err := r.bus.Publish(ctx, bus.ChannelSubject(env.Channel), env); err != nil {
		r.logger.Warn("bus publish failed", "subject", bus.ChannelSubject(env.Channel), "error", err)
	}
}

// recipients computes the recipient set per spec §4.1 step 3.
func (r *Router) recipients(env *envelope.Envelope) []string {
	if env.Channel != "" {
		members := r.registry.ChannelMembers(env.Channel)
		set := make(map[string]struct{}, len(members)+1)
		for _, m := range members {
			if m != env.Source {
				set[m] = struct{}{}
			}
		}
		if env.Destination != "" {
			for _, m := range members {
				if m == env.Destination {
					set[env.Destination] = struct{}{}
					break
				}
			}
		}
		out := make([]string, 0, len(set))
		for id := range set {
			out = append(out, id)
		}
		return out
	}
	if env.Destination != "" {
		return []string{env.Destination}
	}
	return nil
}

// JoinChannel adds agentID to channel and is idempotent.
func (r *Router) JoinChannel(channel, agentID string) {
	r.registry.JoinChannel(channel, agentID)
}

// LeaveChannel removes agentID from channel.
func (r *Router) LeaveChannel(channel, agentID string) {
	r.registry.LeaveChannel(channel, agentID)
}

// RequestState returns every log entry from sinceIndex on (state_update
// / dump_state payload source). agentID does not filter the result.
func (r *Router) RequestState(agentID string, sinceIndex int) []*envelope.Envelope {
	return r.log.Since(sinceIndex)
}

// Stop marks agentID stopped in the registry and closes its outbound
// queue. The server's connection handler calls it when an agent sends
// MsgStop, and then replies with MsgStopAck.
func (r *Router) Stop(agentID string) {
	r.registry.MarkStopped(agentID)
	_ = r.queueFor(agentID).Close()
}

// Heartbeat records a heartbeat_ack from agentID.
func (r *Router) Heartbeat(agentID string) {
	r.registry.Heartbeat(agentID)
}

// PullOutbound blocks until an envelope is queued for agentID or ctx is
// cancelled, then paces delivery against that recipient's rate limit
// before returning it. Used by the server's per-connection writer
// goroutine.
func (r *Router) PullOutbound(ctx context.Context, agentID string) (*envelope.Envelope, bool) {
	q := r.queueFor(agentID)
	env, err := q.Pull(ctx)
	if err != nil {
		return nil, false
	}
	if l := r.limiterFor(agentID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, false
		}
	}
	_ = q.Ack(ctx, env.MessageID)
	return env, true
}

// StartLivenessMonitor runs the periodic heartbeat sweep described in
// spec §4.1 ("the router pings registered endpoints periodically;
// after N missed heartbeats the agent is marked disconnected"). ping is
// called once per connected agent per period; it should itself be
// non-blocking (fire-and-forget over that agent's connection).
func (r *Router) StartLivenessMonitor(ctx context.Context, ping func(agentID string)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.HeartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweepLiveness(ping)
			}
		}
	}()
}

func (r *Router) sweepLiveness(ping func(agentID string)) {
	for _, reg := range r.registry.ConnectedAgents() {
		missed := r.registry.IncrementMissedBeat(reg.AgentID)
		if missed > r.cfg.MaxMissedHeartbeats {
			r.registry.MarkDisconnected(reg.AgentID)
			observability.AgentDisconnects.WithLabelValues(reg.TeamID).Inc()
			r.logger.AgentDisconnected(reg.AgentID, missed)
			continue
		}
		if ping != nil {
			ping(reg.AgentID)
		}
	}
	observability.ConnectedAgents.Set(float64(len(r.registry.ConnectedAgents())))
}

// Close stops the liveness monitor, waits for it to exit, then closes
// the attached bus.
func (r *Router) Close() error {
	close(r.stopCh)
	r.wg.Wait()
	return r.bus.Close()
}
