package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
)

func (e *Engine) selectVersion(logger *slog.Logger, sess *domain.Session, level string, reply ReplyFunc) {
	platform, err := domain.PlatformFromAPILevel(level)
	if err != nil || !offered(platform.Version) {
		reply(alert("Unsupported Android version."))
		return
	}

	step := domain.AwaitFeatures{Platform: platform, Features: domain.FeatureSet{}}
	e.sessions.Advance(sess, step, e.now())
	logger.Info("Platform selected", "version", platform.Version, "api_level", platform.APILevel)
	reply(featurePrompt(step))
}

func offered(version string) bool {
	for _, v := range versionChoices {
		if v == version {
			return true
		}
	}
	return false
}

func (e *Engine) toggleFeature(sess *domain.Session, step domain.AwaitFeatures, token string, reply ReplyFunc) {
	flag, ok := domain.FeatureFromToken(token)
	if !ok || !flag.AvailableOn(step.Platform) {
		reply(alert("This feature is not available for the selected Android version."))
		return
	}

	features := step.Features.Clone()
	features.Toggle(flag)
	next := domain.AwaitFeatures{Platform: step.Platform, Features: features}
	e.sessions.Advance(sess, next, e.now())
	reply(featurePrompt(next))
}

func (e *Engine) confirmFeatures(logger *slog.Logger, sess *domain.Session, step domain.AwaitFeatures, reply ReplyFunc) {
	if step.Features.Empty() {
		reply(alert("Please select at least one feature!"))
		return
	}

	next := domain.AwaitArtifacts{
		Platform:  step.Platform,
		Features:  step.Features.Clone(),
		Required:  step.Features.RequiredArtifacts(),
		Collected: make(map[domain.ArtifactKind]domain.UploadReference),
	}
	e.sessions.Advance(sess, next, e.now())
	logger.Info("Features confirmed", "features", next.Features.Enabled(), "required", next.Required.FileNames())
	reply(textReply("Features selected:\n\n%s", featureSummary(next.Features)))
	reply(artifactPrompt(next))
}

func (e *Engine) handleFile(ctx context.Context, logger *slog.Logger, ev domain.Event, reply ReplyFunc) {
	sess, ok := e.sessions.Get(ev.UserID)
	if !ok {
		reply(textReply("Please use /start_patch before sending files."))
		return
	}
	step, ok := sess.Step.(domain.AwaitArtifacts)
	if !ok {
		reply(textReply("I'm not expecting files right now. Use /cancel to restart."))
		return
	}

	kind, err := domain.ArtifactKindFromFileName(ev.FileName)
	if err != nil {
		reply(textReply("Please send only these files: %s", strings.Join(step.Required.FileNames(), ", ")))
		return
	}
	if !step.Required.Has(kind) {
		reply(textReply("%s is not needed for the selected features.", kind.FileName()))
		return
	}
	if _, dup := step.Collected[kind]; dup {
		reply(textReply("%s was already received. Please send the remaining files.", kind.FileName()))
		return
	}
	if len(ev.Payload) == 0 {
		reply(textReply("%s is empty. Please send it again.", kind.FileName()))
		return
	}

	path, err := e.stageArtifact(ev.UserID, kind, ev.Payload)
	if err != nil {
		logger.Error("Failed to stage artifact", "file", kind.FileName(), "error", err)
		reply(textReply("Could not store %s. Please send it again.", kind.FileName()))
		return
	}
	defer removeQuietly(logger, path)

	reply(textReply("Uploading %s...", kind.FileName()))
	started := time.Now()
	ref, err := e.uploader.Upload(ctx, path, kind.FileName())
	e.metrics.ObserveUpload(string(kind), err == nil, time.Since(started))
	if err != nil {
		var remote *domain.RemoteError
		if !errors.As(err, &remote) {
			remote = &domain.RemoteError{Service: "pixeldrain", Kind: domain.RemoteProtocol, Message: err.Error()}
		}
		logger.Error("Artifact upload failed", "file", kind.FileName(), "error", err)
		e.end(ev.UserID, domain.StateFailed)
		reply(remoteErrorReply("Uploading "+kind.FileName(), remote))
		return
	}

	collected := make(map[domain.ArtifactKind]domain.UploadReference, len(step.Collected)+1)
	for k, v := range step.Collected {
		collected[k] = v
	}
	collected[kind] = ref
	next := domain.AwaitArtifacts{
		Platform:  step.Platform,
		Features:  step.Features,
		Required:  step.Required,
		Collected: collected,
	}
	logger.Info("Artifact collected", "file", kind.FileName(), "id", ref.ID())
	reply(textReply("%s uploaded: %s", kind.FileName(), ref.ShareURL()))

	if !next.Complete() {
		e.sessions.Advance(sess, next, e.now())
		reply(artifactPrompt(next))
		return
	}

	e.sessions.Advance(sess, domain.AwaitCodename{
		Platform:  next.Platform,
		Features:  next.Features,
		Artifacts: next.Collected,
	}, e.now())
	reply(textReply("All files uploaded successfully!"))
	reply(codenamePrompt())
}

// stageArtifact writes payload to a uniquely named file in the artifact dir.
func (e *Engine) stageArtifact(userID string, kind domain.ArtifactKind, payload []byte) (string, error) {
	dir := e.cfg.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := kind.FileName()
	ext := ".jar"
	base := strings.TrimSuffix(name, ext)
	f, err := os.CreateTemp(dir, base+"_"+safeName(userID)+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return f.Name(), nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}

func removeQuietly(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove staged artifact", "path", path, "error", err)
	}
}
