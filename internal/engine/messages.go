package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/ratelimit"
)

// Callback tokens.
const (
	tokenVersionPrefix = "api_"
	tokenFeaturePrefix = "feature_"
	tokenFeaturesDone  = "features_done"
	tokenRomPrefix     = "rom_"
	tokenRomShowAll    = "rom_showall"
	tokenReselect      = "reselect_codename"
)

// versionChoices are the platform versions offered at the start of a session.
var versionChoices = []string{"15", "16"}

func textReply(format string, args ...any) domain.Reply {
	return domain.Reply{Text: fmt.Sprintf(format, args...)}
}

func alert(text string) domain.Reply {
	return domain.Reply{Text: text, Alert: true}
}

func welcomeReply() domain.Reply {
	return domain.Reply{Text: "Hi! I patch framework.jar, services.jar and miui-services.jar for you " +
		"and run the build on GitHub Actions.\n\n" +
		"Send /start_patch to begin, /cancel to stop at any time, /status to see your daily usage.\n" +
		"You can also send a PixelDrain link or ID to get file details."}
}

// ExpiredReply tells a user their idle session was cancelled.
func ExpiredReply() domain.Reply {
	return domain.Reply{Text: "Your patch session expired after a period of inactivity. Send /start_patch to begin again."}
}

func versionPrompt() domain.Reply {
	row := make([]domain.Button, 0, len(versionChoices))
	for _, v := range versionChoices {
		p, _ := domain.PlatformFromVersion(v)
		row = append(row, domain.Button{Text: "Android " + v, Data: tokenVersionPrefix + p.APILevel})
	}
	return domain.Reply{
		Text:    "Let's start the patching process.\n\nWhich Android version is your ROM based on?",
		Buttons: [][]domain.Button{row},
	}
}

func featurePrompt(step domain.AwaitFeatures) domain.Reply {
	var rows [][]domain.Button
	for _, f := range domain.FeatureOrder {
		if !f.AvailableOn(step.Platform) {
			continue
		}
		mark := "☐"
		if step.Features[f] {
			mark = "✓"
		}
		rows = append(rows, []domain.Button{{Text: mark + " " + f.Label(), Data: tokenFeaturePrefix + f.Token()}})
	}
	rows = append(rows, []domain.Button{{Text: "Continue with selected features", Data: tokenFeaturesDone}})
	return domain.Reply{
		Text:    fmt.Sprintf("%s selected.\n\nToggle the patches you want applied, then continue:", step.Platform),
		Buttons: rows,
	}
}

func featureSummary(features domain.FeatureSet) string {
	enabled := features.Enabled()
	if len(enabled) == 0 {
		return "Default features"
	}
	lines := make([]string, len(enabled))
	for i, f := range enabled {
		lines[i] = "✓ " + f.Label()
	}
	return strings.Join(lines, "\n")
}

func artifactPrompt(step domain.AwaitArtifacts) domain.Reply {
	missing := step.Missing()
	lines := make([]string, len(missing))
	for i, kind := range missing {
		lines[i] = "• " + kind.FileName()
	}
	return textReply("Please send the following file(s):\n%s", strings.Join(lines, "\n"))
}

func codenamePrompt() domain.Reply {
	return domain.Reply{Text: "Please enter your device codename (e.g. rothko, xaga, marble).\n\n" +
		"Tip: you can also search by device name if you don't know the codename."}
}

func invalidCodenameReply(codename string, attempt, limit int, suggestions []string) domain.Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "Invalid codename: %s\n\nAttempt %d/%d - please try again.", codename, attempt, limit)
	if len(suggestions) > 0 {
		b.WriteString("\n\nDid you mean one of these?")
		for _, s := range suggestions {
			b.WriteString("\n• " + s)
		}
	}
	return domain.Reply{Text: b.String()}
}

func romPrompt(step domain.AwaitRomSelection, pageSize int) domain.Reply {
	roms := step.Software.Roms
	var rows [][]domain.Button
	for i, rom := range roms {
		if i == pageSize {
			break
		}
		rows = append(rows, []domain.Button{{Text: rom.Label(), Data: fmt.Sprintf("%s%d", tokenRomPrefix, i)}})
	}
	if len(roms) > pageSize {
		rows = append(rows, []domain.Button{{Text: fmt.Sprintf("Show all (%d versions)", len(roms)), Data: tokenRomShowAll}})
	}
	rows = append(rows, []domain.Button{{Text: "Change device", Data: tokenReselect}})
	return domain.Reply{
		Text: fmt.Sprintf("Device found: %s (%s)\n\nFound %d ROM version(s). Please select a version:",
			step.DeviceName, step.Codename, len(roms)),
		Buttons: rows,
	}
}

func romListReply(step domain.AwaitRomSelection, limit int) domain.Reply {
	roms := step.Software.Roms
	var b strings.Builder
	fmt.Fprintf(&b, "All available versions for %s:\n\n", step.DeviceName)
	for i, rom := range roms {
		if i == limit {
			fmt.Fprintf(&b, "\n... and %d more versions\n", len(roms)-limit)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, rom.Label())
	}
	fmt.Fprintf(&b, "\nType the version number (1-%d) or the version name to select.", len(roms))
	return domain.Reply{Text: b.String()}
}

var uploadOrder = []domain.ArtifactKind{domain.ArtifactFramework, domain.ArtifactServices, domain.ArtifactMiuiServices}

func dispatchedReply(req domain.DispatchRequest, usage ratelimit.Usage) domain.Reply {
	var uploads strings.Builder
	for _, kind := range uploadOrder {
		if ref, ok := req.Artifact(kind); ok {
			fmt.Fprintf(&uploads, "\n%s: %s", kind.FileName(), ref.ShareURL())
		}
	}
	return textReply("Workflow triggered successfully!\n\n"+
		"Device: %s\nVersion: %s\nAndroid: %s (API %s)\n\nFeatures applied:\n%s\n\nUploaded files:%s\n\n"+
		"You will receive a notification when the build is complete.\n\nDaily triggers used: %d/%d",
		req.DeviceName(), req.Version(), req.Platform().Version, req.Platform().APILevel,
		featureSummary(req.Features()), uploads.String(), usage.Used, usage.Limit)
}

func remoteErrorReply(what string, err *domain.RemoteError) domain.Reply {
	if err.Kind == domain.RemoteHTTPStatus {
		return textReply("%s failed: the service returned HTTP %d after %d attempt(s).\n%s\n\nUse /start_patch to try again.",
			what, err.StatusCode, err.Attempts, err.Message)
	}
	return textReply("%s failed (%s) after %d attempt(s): %s\n\nUse /start_patch to try again.",
		what, err.Kind, err.Attempts, err.Message)
}

func limitReply(usage ratelimit.Usage, now time.Time) domain.Reply {
	return textReply("You have reached the daily limit of %d workflow triggers. Try again %s.",
		usage.Limit, humanize.RelTime(usage.ResetAt, now, "ago", "from now"))
}

func fileInfoReply(info domain.FileInfo) domain.Reply {
	uploaded := info.DateUpload
	if ts, err := time.Parse(time.RFC3339Nano, info.DateUpload); err == nil {
		uploaded = ts.UTC().Format("2006-01-02 15:04 MST") + " (" + humanize.Time(ts) + ")"
	}
	ref := domain.NewUploadReference(info.ID)
	return domain.Reply{
		Text: fmt.Sprintf("File name: %s\nUpload date: %s\nFile size: %s\nFile type: %s",
			info.Name, uploaded, humanize.Bytes(uint64(max(info.Size, 0))), info.MimeType),
		Buttons: [][]domain.Button{
			{{Text: "Open link", URL: ref.ShareURL()}, {Text: "Direct link", URL: ref.DirectURL()}},
		},
	}
}
