package domain

import (
	"fmt"
	"path"
	"strings"
)

// ArtifactKind identifies one of the binaries the patch job consumes.
type ArtifactKind string

const (
	ArtifactFramework    ArtifactKind = "framework"
	ArtifactServices     ArtifactKind = "services"
	ArtifactMiuiServices ArtifactKind = "miui_services"
)

// artifactOrder is the canonical order used for prompts and dispatch inputs.
var artifactOrder = []ArtifactKind{ArtifactFramework, ArtifactServices, ArtifactMiuiServices}

var artifactFileNames = map[ArtifactKind]string{
	ArtifactFramework:    "framework.jar",
	ArtifactServices:     "services.jar",
	ArtifactMiuiServices: "miui-services.jar",
}

// FileName returns the file name users must upload for the kind.
func (k ArtifactKind) FileName() string {
	return artifactFileNames[k]
}

// ArtifactKindFromFileName maps a declared upload name onto its kind.
// Matching is case-insensitive and ignores any directory part.
func ArtifactKindFromFileName(name string) (ArtifactKind, error) {
	base := strings.ToLower(strings.TrimSpace(path.Base(name)))
	if !strings.HasSuffix(base, ".jar") {
		return "", fmt.Errorf("%q is not a jar file", name)
	}
	for _, kind := range artifactOrder {
		if artifactFileNames[kind] == base {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unexpected file name %q", name)
}

// ArtifactSet is a set of artifact kinds.
type ArtifactSet map[ArtifactKind]struct{}

// NewArtifactSet builds a set from the given kinds.
func NewArtifactSet(kinds ...ArtifactKind) ArtifactSet {
	set := make(ArtifactSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

// Has reports whether kind is in the set.
func (s ArtifactSet) Has(kind ArtifactKind) bool {
	_, ok := s[kind]
	return ok
}

// Union returns a new set containing members of both sets.
func (s ArtifactSet) Union(other ArtifactSet) ArtifactSet {
	out := make(ArtifactSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Kinds returns the members in canonical order.
func (s ArtifactSet) Kinds() []ArtifactKind {
	out := make([]ArtifactKind, 0, len(s))
	for _, k := range artifactOrder {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// FileNames returns the declared file names of the members in canonical order.
func (s ArtifactSet) FileNames() []string {
	kinds := s.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.FileName()
	}
	return out
}

const (
	// DirectURLTemplate builds the raw download link of an uploaded file.
	DirectURLTemplate = "https://pixeldrain.com/api/file/%s"
	// ShareURLTemplate builds the human-facing page of an uploaded file.
	ShareURLTemplate = "https://pixeldrain.com/u/%s"
)

// UploadReference points at an uploaded artifact. Values are only built by
// NewUploadReference, so the links are always derived from the ID.
type UploadReference struct {
	id        string
	directURL string
	shareURL  string
}

// NewUploadReference derives the links for a hosting id.
func NewUploadReference(id string) UploadReference {
	return UploadReference{
		id:        id,
		directURL: fmt.Sprintf(DirectURLTemplate, id),
		shareURL:  fmt.Sprintf(ShareURLTemplate, id),
	}
}

func (r UploadReference) ID() string        { return r.id }
func (r UploadReference) DirectURL() string { return r.directURL }
func (r UploadReference) ShareURL() string  { return r.shareURL }

// IsZero reports whether the reference was never set.
func (r UploadReference) IsZero() bool { return r.id == "" }

// FileInfo is the hosting service's metadata for an uploaded file.
type FileInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
	DateUpload string `json:"date_upload"`
}
