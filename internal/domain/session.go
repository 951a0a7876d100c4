package domain

import (
	"time"
)

// State enumerates the conversation states a session can be in.
type State int

const (
	StateInit State = iota
	StateAwaitVersion
	StateAwaitFeatures
	StateAwaitCodename
	StateAwaitRomSelection
	StateAwaitArtifacts
	StateDispatching
	StateComplete
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateInit:              "INIT",
	StateAwaitVersion:      "AWAIT_VERSION",
	StateAwaitFeatures:     "AWAIT_FEATURES",
	StateAwaitCodename:     "AWAIT_CODENAME",
	StateAwaitRomSelection: "AWAIT_ROM_SELECTION",
	StateAwaitArtifacts:    "AWAIT_ARTIFACTS",
	StateDispatching:       "DISPATCHING",
	StateComplete:          "COMPLETE",
	StateCancelled:         "CANCELLED",
	StateFailed:            "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Step is the state-specific payload of a session. Each implementation
// carries only the fields that are valid in its state.
type Step interface {
	State() State
}

// AwaitVersion waits for the platform version choice.
type AwaitVersion struct{}

// AwaitFeatures collects feature toggles until the user confirms.
type AwaitFeatures struct {
	Platform Platform
	Features FeatureSet
}

// AwaitArtifacts collects the uploads required by the confirmed features.
type AwaitArtifacts struct {
	Platform  Platform
	Features  FeatureSet
	Required  ArtifactSet
	Collected map[ArtifactKind]UploadReference
}

// AwaitCodename waits for a valid device codename.
type AwaitCodename struct {
	Platform  Platform
	Features  FeatureSet
	Artifacts map[ArtifactKind]UploadReference
	Retries   int
}

// AwaitRomSelection waits for the user to pick a ROM from the catalog payload.
type AwaitRomSelection struct {
	Platform   Platform
	Features   FeatureSet
	Artifacts  map[ArtifactKind]UploadReference
	Codename   string
	DeviceName string
	Software   Software
}

// Dispatching holds the one request a session is consumed by.
type Dispatching struct {
	Request DispatchRequest
}

func (AwaitVersion) State() State      { return StateAwaitVersion }
func (AwaitFeatures) State() State     { return StateAwaitFeatures }
func (AwaitArtifacts) State() State    { return StateAwaitArtifacts }
func (AwaitCodename) State() State     { return StateAwaitCodename }
func (AwaitRomSelection) State() State { return StateAwaitRomSelection }
func (Dispatching) State() State       { return StateDispatching }

// Missing returns the required kinds that have not been uploaded yet, in
// canonical order.
func (s AwaitArtifacts) Missing() []ArtifactKind {
	var out []ArtifactKind
	for _, kind := range s.Required.Kinds() {
		if _, ok := s.Collected[kind]; !ok {
			out = append(out, kind)
		}
	}
	return out
}

// Complete reports whether every required artifact has been collected.
func (s AwaitArtifacts) Complete() bool {
	return len(s.Missing()) == 0
}

// Session is the per-user conversation record.
type Session struct {
	UserID    string
	StartedAt time.Time
	UpdatedAt time.Time
	Step      Step
}

// NewSession starts a session waiting for the version choice.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		StartedAt: now,
		UpdatedAt: now,
		Step:      AwaitVersion{},
	}
}

// State returns the enum value of the current step.
func (s *Session) State() State {
	if s == nil || s.Step == nil {
		return StateInit
	}
	return s.Step.State()
}

// Advance replaces the current step and bumps UpdatedAt.
func (s *Session) Advance(step Step, now time.Time) {
	s.Step = step
	s.UpdatedAt = now
}

// IdleFor returns how long the session has gone without an update.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}
