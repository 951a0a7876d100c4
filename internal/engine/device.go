package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/catalog"
	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/ratelimit"
)

func (e *Engine) submitCodename(ctx context.Context, logger *slog.Logger, sess *domain.Session, step domain.AwaitCodename, text string, reply ReplyFunc) {
	res, err := e.resolver.Resolve(ctx, text)
	if err != nil {
		logger.Warn("Codename lookup failed", "error", err)
		reply(textReply("The device catalog is unavailable right now. Please send the codename again in a moment."))
		return
	}

	if !res.Valid {
		step.Retries++
		if step.Retries >= e.cfg.MaxCodenameRetries {
			logger.Info("Codename retries exhausted", "input", res.Codename)
			e.end(sess.UserID, domain.StateCancelled)
			reply(textReply("Maximum retry attempts reached. Operation cancelled.\n\nPlease use /start_patch to try again."))
			return
		}
		e.sessions.Advance(sess, step, e.now())
		reply(invalidCodenameReply(res.Codename, step.Retries, e.cfg.MaxCodenameRetries, res.Suggestions))
		return
	}

	software, err := e.resolver.Software(ctx, res.Codename)
	switch {
	case errors.Is(err, catalog.ErrUnknownCodename) || (err == nil && software.Empty()):
		name := res.DeviceName
		if name == "" {
			name = res.Codename
		}
		reply(textReply("No software versions found for %s (%s).\n\nThis device may not be supported yet. Please try another device.",
			name, res.Codename))
		return
	case err != nil:
		logger.Warn("Software lookup failed", "codename", res.Codename, "error", err)
		reply(textReply("The device catalog is unavailable right now. Please send the codename again in a moment."))
		return
	}

	deviceName := software.Name
	if deviceName == "" {
		deviceName = res.DeviceName
	}
	if deviceName == "" {
		deviceName = res.Codename
	}

	next := domain.AwaitRomSelection{
		Platform:   step.Platform,
		Features:   step.Features,
		Artifacts:  step.Artifacts,
		Codename:   res.Codename,
		DeviceName: deviceName,
		Software:   software,
	}
	e.sessions.Advance(sess, next, e.now())
	logger.Info("Device resolved", "codename", res.Codename, "device", deviceName, "roms", len(software.Roms))
	reply(romPrompt(next, e.cfg.RomPageSize))
}

func (e *Engine) reselectCodename(sess *domain.Session, step domain.AwaitRomSelection, reply ReplyFunc) {
	e.sessions.Advance(sess, domain.AwaitCodename{
		Platform:  step.Platform,
		Features:  step.Features,
		Artifacts: step.Artifacts,
	}, e.now())
	reply(codenamePrompt())
}

func (e *Engine) selectRomToken(ctx context.Context, logger *slog.Logger, sess *domain.Session, step domain.AwaitRomSelection, token string, reply ReplyFunc) {
	index, err := strconv.Atoi(token)
	if err != nil || index < 0 || index >= len(step.Software.Roms) {
		reply(alert("Invalid version selection!"))
		return
	}
	e.selectRom(ctx, logger, sess, step, index, reply)
}

// selectRomText accepts a 1-based position or a version name.
func (e *Engine) selectRomText(ctx context.Context, logger *slog.Logger, sess *domain.Session, step domain.AwaitRomSelection, text string, reply ReplyFunc) {
	text = strings.TrimSpace(text)
	roms := step.Software.Roms

	index := -1
	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(roms) {
			index = n - 1
		}
	} else {
		for i, rom := range roms {
			if strings.EqualFold(rom.Version, text) {
				index = i
				break
			}
		}
	}
	if index < 0 {
		reply(textReply("Invalid selection. Type a number between 1 and %d or the version name.", len(roms)))
		return
	}
	e.selectRom(ctx, logger, sess, step, index, reply)
}

// selectRom validates the chosen build, applies the daily limit and consumes
// the session with a single dispatch.
func (e *Engine) selectRom(ctx context.Context, logger *slog.Logger, sess *domain.Session, step domain.AwaitRomSelection, index int, reply ReplyFunc) {
	rom := step.Software.Roms[index]
	platform, err := domain.PlatformFromVersion(rom.PlatformVersion)
	if err != nil {
		reply(alert("Android " + rom.PlatformVersion + " is not supported. Minimum required: Android 13"))
		return
	}

	usage, err := e.limiter.Check(ctx, sess.UserID)
	switch {
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		logger.Info("Daily dispatch limit reached", "used", usage.Used, "limit", usage.Limit)
		e.metrics.IncRateLimited()
		e.recordOutcome(ctx, logger, &domain.DispatchRecord{
			UserID: sess.UserID, Codename: step.Codename, DeviceName: step.DeviceName,
			Version: rom.Version, APILevel: platform.APILevel, Outcome: domain.OutcomeRateLimited,
		})
		e.end(sess.UserID, domain.StateCancelled)
		reply(limitReply(usage, e.now()))
		return
	case err != nil:
		logger.Error("Rate limit check failed", "error", err)
		reply(textReply("Could not check your daily limit. Please select the version again."))
		return
	}

	req, err := domain.NewDispatchRequest(sess.UserID, platform, step.Codename, step.DeviceName, rom.Version, step.Artifacts, step.Features)
	if err != nil {
		logger.Error("Invalid dispatch request", "error", err)
		e.end(sess.UserID, domain.StateFailed)
		reply(textReply("Something went wrong preparing the build. Use /start_patch to try again."))
		return
	}

	e.sessions.Advance(sess, domain.Dispatching{Request: req}, e.now())
	final := domain.StateFailed
	defer func() { e.end(sess.UserID, final) }()

	reply(textReply("Triggering GitHub workflow..."))
	started := time.Now()
	result, err := e.dispatcher.Dispatch(ctx, req)
	e.metrics.ObserveDispatch(platform.APILevel, err == nil, time.Since(started))

	rec := &domain.DispatchRecord{
		UserID:     sess.UserID,
		Codename:   req.Codename(),
		DeviceName: req.DeviceName(),
		Version:    req.Version(),
		APILevel:   platform.APILevel,
		Workflow:   e.dispatcher.Workflow(req),
		Outcome:    domain.OutcomeComplete,
	}
	if err != nil {
		var remote *domain.RemoteError
		if !errors.As(err, &remote) {
			remote = &domain.RemoteError{Service: "github", Kind: domain.RemoteProtocol, Message: err.Error()}
		}
		rec.Outcome = domain.OutcomeFailed
		rec.Error = remote.Error()
		e.recordOutcome(ctx, logger, rec)
		logger.Error("Workflow dispatch failed", "error", err)
		reply(remoteErrorReply("Triggering the workflow", remote))
		return
	}

	e.recordOutcome(ctx, logger, rec)
	after, err := e.limiter.Record(ctx, sess.UserID)
	if err != nil {
		logger.Error("Failed to record dispatch in rate window", "error", err)
		after = ratelimit.Usage{Used: usage.Used + 1, Limit: usage.Limit}
	}
	final = domain.StateComplete
	logger.Info("Workflow dispatched", "workflow", result.Workflow, "attempts", result.Attempts)
	reply(dispatchedReply(req, after))
}

func (e *Engine) recordOutcome(ctx context.Context, logger *slog.Logger, rec *domain.DispatchRecord) {
	if e.history == nil {
		return
	}
	if err := e.history.RecordDispatch(ctx, rec); err != nil {
		logger.Error("Failed to record dispatch history", "error", err)
	}
}
