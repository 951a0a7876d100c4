package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DispatchRequest is the immutable set of parameters for one remote job.
// Build it with NewDispatchRequest.
type DispatchRequest struct {
	userID     string
	platform   Platform
	deviceName string
	codename   string
	version    string
	artifacts  map[ArtifactKind]UploadReference
	features   FeatureSet
}

// NewDispatchRequest validates a completed selection and freezes it.
func NewDispatchRequest(userID string, platform Platform, codename, deviceName, version string, artifacts map[ArtifactKind]UploadReference, features FeatureSet) (DispatchRequest, error) {
	if userID == "" {
		return DispatchRequest{}, errors.New("dispatch request: missing user id")
	}
	if platform.APILevel == "" {
		return DispatchRequest{}, errors.New("dispatch request: missing api level")
	}
	if deviceName == "" || version == "" {
		return DispatchRequest{}, errors.New("dispatch request: missing device or version")
	}
	required := features.RequiredArtifacts()
	frozen := make(map[ArtifactKind]UploadReference, len(artifacts))
	for _, kind := range required.Kinds() {
		ref, ok := artifacts[kind]
		if !ok || ref.IsZero() {
			return DispatchRequest{}, fmt.Errorf("dispatch request: missing %s", kind.FileName())
		}
		frozen[kind] = ref
	}
	return DispatchRequest{
		userID:     userID,
		platform:   platform,
		deviceName: deviceName,
		codename:   codename,
		version:    version,
		artifacts:  frozen,
		features:   features.Clone(),
	}, nil
}

func (r DispatchRequest) UserID() string     { return r.userID }
func (r DispatchRequest) Platform() Platform { return r.platform }
func (r DispatchRequest) DeviceName() string { return r.deviceName }
func (r DispatchRequest) Codename() string   { return r.codename }
func (r DispatchRequest) Version() string    { return r.version }

// Features returns a copy of the enabled flags.
func (r DispatchRequest) Features() FeatureSet { return r.features.Clone() }

// Artifact returns the upload for kind, if any.
func (r DispatchRequest) Artifact(kind ArtifactKind) (UploadReference, bool) {
	ref, ok := r.artifacts[kind]
	return ref, ok
}

// Inputs renders the workflow inputs. Every flag is sent as "true"/"false".
func (r DispatchRequest) Inputs() map[string]string {
	inputs := map[string]string{
		"api_level":    r.platform.APILevel,
		"device_name":  r.deviceName,
		"version_name": r.version,
		"user_id":      r.userID,
	}
	for _, kind := range artifactOrder {
		url := ""
		if ref, ok := r.artifacts[kind]; ok {
			url = ref.ShareURL()
		}
		inputs[string(kind)+"_url"] = url
	}
	for _, f := range FeatureOrder {
		inputs[f.InputName()] = strconv.FormatBool(r.features[f])
	}
	return inputs
}

// DispatchResult describes an accepted dispatch.
type DispatchResult struct {
	Workflow   string
	StatusCode int
	Attempts   int
}

// DispatchOutcome is the recorded end state of a dispatch attempt.
type DispatchOutcome string

const (
	OutcomeComplete    DispatchOutcome = "complete"
	OutcomeFailed      DispatchOutcome = "failed"
	OutcomeRateLimited DispatchOutcome = "rate_limited"
)

// DispatchRecord is a persisted history entry.
type DispatchRecord struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Codename   string          `json:"codename"`
	DeviceName string          `json:"device_name"`
	Version    string          `json:"version"`
	APILevel   string          `json:"api_level"`
	Workflow   string          `json:"workflow"`
	Outcome    DispatchOutcome `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
