// Package engine runs the per-user patch conversation: it collects the
// platform version, feature toggles, artifacts, device and ROM, then fires
// exactly one workflow dispatch per completed session.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/catalog"
	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/metrics"
	"github.com/ashureev/patchbot/internal/ratelimit"
	"github.com/ashureev/patchbot/internal/session"
)

// Uploader stores artifacts on the hosting service.
type Uploader interface {
	Upload(ctx context.Context, path, name string) (domain.UploadReference, error)
	Info(ctx context.Context, id string) (domain.FileInfo, error)
}

// Dispatcher triggers the remote workflow.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchResult, error)
	Workflow(req domain.DispatchRequest) string
}

// Resolver validates codenames and fetches device software.
type Resolver interface {
	Resolve(ctx context.Context, input string) (catalog.Resolution, error)
	Software(ctx context.Context, codename string) (domain.Software, error)
}

// Limiter enforces the daily dispatch cap.
type Limiter interface {
	Check(ctx context.Context, userID string) (ratelimit.Usage, error)
	Record(ctx context.Context, userID string) (ratelimit.Usage, error)
}

// History persists dispatch outcomes and answers admin queries.
type History interface {
	RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) error
	RecentDispatches(ctx context.Context, limit int) ([]domain.DispatchRecord, error)
	CountUsers(ctx context.Context, activeSince time.Time) (int, int, error)
}

// LogTail exposes recent log lines.
type LogTail interface {
	Tail(n int) []string
}

// ReplyFunc delivers a reply to the user of the event being handled.
type ReplyFunc func(domain.Reply)

// Config tunes the conversation.
type Config struct {
	// ArtifactDir receives uploaded payloads until they are forwarded.
	ArtifactDir string
	// OwnerID may use the admin commands.
	OwnerID string
	// MaxCodenameRetries is the number of invalid codenames that cancel a session.
	MaxCodenameRetries int
	// RomPageSize is the number of ROM buttons shown.
	RomPageSize int
	// RomListMax is the number of entries listed by "show all".
	RomListMax int
	// MaxLogLines caps /logs.
	MaxLogLines int
}

func (c *Config) setDefaults() {
	if c.MaxCodenameRetries <= 0 {
		c.MaxCodenameRetries = 3
	}
	if c.RomPageSize <= 0 {
		c.RomPageSize = 10
	}
	if c.RomListMax <= 0 {
		c.RomListMax = 30
	}
	if c.MaxLogLines <= 0 {
		c.MaxLogLines = 200
	}
}

// Deps are the collaborators of the engine. Sessions, Uploader, Dispatcher,
// Resolver and Limiter are required.
type Deps struct {
	Sessions   *session.Store
	Uploader   Uploader
	Dispatcher Dispatcher
	Resolver   Resolver
	Limiter    Limiter
	History    History
	Logs       LogTail
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Engine is the conversation state machine.
type Engine struct {
	sessions   *session.Store
	uploader   Uploader
	dispatcher Dispatcher
	resolver   Resolver
	limiter    Limiter
	history    History
	logs       LogTail
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config

	now     func() time.Time
	started time.Time
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	cfg.setDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore()
	}
	return &Engine{
		sessions:   deps.Sessions,
		uploader:   deps.Uploader,
		dispatcher: deps.Dispatcher,
		resolver:   deps.Resolver,
		limiter:    deps.Limiter,
		history:    deps.History,
		logs:       deps.Logs,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With("component", "engine"),
		cfg:        cfg,
		now:        time.Now,
		started:    time.Now(),
	}
}

// Sessions returns the engine's session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Handle processes one inbound event. Events of the same user are handled
// one at a time; replies go through reply in order.
func (e *Engine) Handle(ctx context.Context, ev domain.Event, reply ReplyFunc) {
	if ev.FromBot || ev.UserID == "" {
		return
	}
	unlock := e.sessions.Lock(ev.UserID)
	defer unlock()

	e.metrics.IncEvent(string(ev.Kind))
	logger := e.logger.With("user_id", ev.UserID, "event_id", ev.ID, "kind", ev.Kind)

	switch ev.Kind {
	case domain.EventCommand:
		e.handleCommand(ctx, logger, ev, reply)
	case domain.EventCallback:
		e.handleCallback(ctx, logger, ev, reply)
	case domain.EventFile:
		e.handleFile(ctx, logger, ev, reply)
	case domain.EventText:
		e.handleText(ctx, logger, ev, reply)
	default:
		logger.Warn("Unknown event kind")
	}
}

// end destroys the user's session and counts its terminal state.
func (e *Engine) end(userID string, state domain.State) {
	if e.sessions.Delete(userID) {
		e.metrics.IncSessionEnded(state.String())
	}
}

// ReapIdle cancels the sessions that have been idle for longer than ttl and
// returns their users. Each session is rechecked under its user's lock.
func (e *Engine) ReapIdle(now time.Time, ttl time.Duration) []string {
	var reaped []string
	for _, userID := range e.sessions.Idle(now, ttl) {
		unlock := e.sessions.Lock(userID)
		if sess, ok := e.sessions.Get(userID); ok && sess.IdleFor(now) > ttl {
			e.logger.Info("Reaping idle session", "user_id", userID, "state", sess.State(), "idle", sess.IdleFor(now).Round(time.Second))
			e.end(userID, domain.StateCancelled)
			reaped = append(reaped, userID)
		}
		unlock()
	}
	return reaped
}

func (e *Engine) handleCommand(ctx context.Context, logger *slog.Logger, ev domain.Event, reply ReplyFunc) {
	switch strings.ToLower(strings.TrimPrefix(ev.Command, "/")) {
	case "start":
		reply(welcomeReply())
	case "start_patch":
		e.startPatch(logger, ev, reply)
	case "cancel":
		e.cancel(logger, ev, reply)
	case "status":
		e.status(ctx, ev, reply)
	case "logs":
		e.tailLogs(ev, reply)
	case "ping":
		e.ping(reply)
	default:
		reply(textReply("Unknown command. Use /start_patch to begin or /cancel to stop."))
	}
}

func (e *Engine) handleCallback(ctx context.Context, logger *slog.Logger, ev domain.Event, reply ReplyFunc) {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		reply(alert("Session expired. Use /start_patch to begin."))
		return
	}

	data := ev.Data
	switch step := sess.Step.(type) {
	case domain.AwaitVersion:
		if strings.HasPrefix(data, tokenVersionPrefix) {
			e.selectVersion(logger, sess, strings.TrimPrefix(data, tokenVersionPrefix), reply)
			return
		}
	case domain.AwaitFeatures:
		switch {
		case data == tokenFeaturesDone:
			e.confirmFeatures(logger, sess, step, reply)
			return
		case strings.HasPrefix(data, tokenFeaturePrefix):
			e.toggleFeature(sess, step, strings.TrimPrefix(data, tokenFeaturePrefix), reply)
			return
		}
	case domain.AwaitRomSelection:
		switch {
		case data == tokenRomShowAll:
			reply(romListReply(step, e.cfg.RomListMax))
			return
		case data == tokenReselect:
			e.reselectCodename(sess, step, reply)
			return
		case strings.HasPrefix(data, tokenRomPrefix):
			e.selectRomToken(ctx, logger, sess, step, strings.TrimPrefix(data, tokenRomPrefix), reply)
			return
		}
	}

	logger.Debug("Callback not valid in state", "data", data, "state", sess.State())
	reply(alert("That button is not active anymore."))
}

func (e *Engine) handleText(ctx context.Context, logger *slog.Logger, ev domain.Event, reply ReplyFunc) {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		e.lookupFile(ctx, logger, ev.Text, reply)
		return
	}

	switch step := sess.Step.(type) {
	case domain.AwaitCodename:
		e.submitCodename(ctx, logger, sess, step, ev.Text, reply)
	case domain.AwaitRomSelection:
		e.selectRomText(ctx, logger, sess, step, ev.Text, reply)
	case domain.AwaitArtifacts:
		reply(artifactPrompt(step))
	default:
		reply(textReply("I'm currently expecting a button choice, files or specific text input. Use /cancel to restart."))
	}
}
