package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/upload"
)

const recentDispatchesShown = 5

func (e *Engine) isOwner(userID string) bool {
	return e.cfg.OwnerID != "" && userID == e.cfg.OwnerID
}

func (e *Engine) startPatch(logger *slog.Logger, ev domain.Event, reply ReplyFunc) {
	if old, ok := e.sessions.Get(ev.UserID); ok {
		logger.Info("Replacing unfinished session", "state", old.State())
		e.end(ev.UserID, domain.StateCancelled)
	}
	e.sessions.Put(domain.NewSession(ev.UserID, e.now()))
	logger.Info("Session started")
	reply(versionPrompt())
}

func (e *Engine) cancel(logger *slog.Logger, ev domain.Event, reply ReplyFunc) {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		reply(textReply("No active operation to cancel."))
		return
	}
	logger.Info("Session cancelled", "state", sess.State())
	e.end(ev.UserID, domain.StateCancelled)
	reply(textReply("Operation cancelled. Use /start_patch to begin again."))
}

func (e *Engine) ping(reply ReplyFunc) {
	uptime := e.now().Sub(e.started).Round(time.Second)
	reply(textReply("Pong! Uptime: %s (up since %s)", uptime, humanize.Time(e.started)))
}

func (e *Engine) status(ctx context.Context, ev domain.Event, reply ReplyFunc) {
	var b strings.Builder

	usage, err := e.limiter.Check(ctx, ev.UserID)
	if err != nil && usage.Limit == 0 {
		e.logger.Error("Failed to read rate window", "user_id", ev.UserID, "error", err)
		b.WriteString("Daily usage: unavailable\n")
	} else {
		fmt.Fprintf(&b, "Daily triggers used: %d/%d\n", usage.Used, usage.Limit)
	}
	if sess, ok := e.sessions.Get(ev.UserID); ok {
		fmt.Fprintf(&b, "Your session: %s (started %s)\n", sess.State(), humanize.Time(sess.StartedAt))
	} else {
		b.WriteString("Your session: none\n")
	}

	if e.isOwner(ev.UserID) {
		e.ownerStatus(ctx, &b)
	}
	reply(domain.Reply{Text: strings.TrimRight(b.String(), "\n")})
}

func (e *Engine) ownerStatus(ctx context.Context, b *strings.Builder) {
	fmt.Fprintf(b, "\nActive sessions: %d\n", e.sessions.Len())
	counts := e.sessions.CountByState()
	states := make([]domain.State, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for _, state := range states {
		fmt.Fprintf(b, "  %s: %d\n", state, counts[state])
	}
	fmt.Fprintf(b, "Uptime: %s\n", e.now().Sub(e.started).Round(time.Second))

	if e.history == nil {
		return
	}
	total, active, err := e.history.CountUsers(ctx, e.now().Add(-24*time.Hour))
	if err != nil {
		e.logger.Error("Failed to count users", "error", err)
	} else {
		fmt.Fprintf(b, "Users: %d total, %d active in the last 24h\n", total, active)
	}

	recent, err := e.history.RecentDispatches(ctx, recentDispatchesShown)
	if err != nil {
		e.logger.Error("Failed to load dispatch history", "error", err)
		return
	}
	if len(recent) == 0 {
		return
	}
	b.WriteString("\nRecent dispatches:\n")
	for _, rec := range recent {
		fmt.Fprintf(b, "• %s %s %s (API %s) %s, %s\n",
			rec.UserID, rec.Codename, rec.Version, rec.APILevel, rec.Outcome, humanize.Time(rec.CreatedAt))
	}
}

func (e *Engine) tailLogs(ev domain.Event, reply ReplyFunc) {
	if !e.isOwner(ev.UserID) {
		reply(textReply("This command is restricted to the bot owner."))
		return
	}
	if e.logs == nil {
		reply(textReply("Log capture is disabled."))
		return
	}

	n := 50
	if arg := strings.TrimSpace(ev.Text); arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed <= 0 {
			reply(textReply("Usage: /logs [lines]"))
			return
		}
		n = parsed
	}
	n = min(n, e.cfg.MaxLogLines)

	lines := e.logs.Tail(n)
	if len(lines) == 0 {
		reply(textReply("No log lines captured yet."))
		return
	}
	reply(textReply("Last %d log line(s):\n%s", len(lines), strings.Join(lines, "\n")))
}

// lookupFile answers free text sent outside a session. PixelDrain links and
// ids get the file details; anything else gets a hint.
func (e *Engine) lookupFile(ctx context.Context, logger *slog.Logger, text string, reply ReplyFunc) {
	id, ok := upload.ExtractID(text)
	if !ok {
		reply(textReply("I'm not sure what to do with that. Use /start_patch or send a valid PixelDrain link or ID."))
		return
	}

	info, err := e.uploader.Info(ctx, id)
	switch {
	case errors.Is(err, upload.ErrNotFound):
		reply(textReply("Could not find information for ID: %s. It might be invalid or deleted.", id))
	case err != nil:
		logger.Warn("PixelDrain info lookup failed", "id", id, "error", err)
		reply(textReply("Failed to retrieve file information: network error or invalid ID."))
	default:
		reply(fileInfoReply(info))
	}
}
