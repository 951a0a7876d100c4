package domain

import (
	"strconv"
)

// FeatureFlag is a patch the remote job can apply.
type FeatureFlag string

const (
	FeatureSignatureBypass   FeatureFlag = "signature_bypass"
	FeatureCNNotificationFix FeatureFlag = "cn_notification_fix"
	FeatureDisableSecureFlag FeatureFlag = "disable_secure_flag"
)

// BaselineFeature is used when a feature selection requires nothing.
const BaselineFeature = FeatureSignatureBypass

// FeatureOrder is the canonical display order.
var FeatureOrder = []FeatureFlag{FeatureSignatureBypass, FeatureCNNotificationFix, FeatureDisableSecureFlag}

type featureSpec struct {
	label       string
	token       string
	input       string
	minPlatform int
	requires    ArtifactSet
}

var featureTable = map[FeatureFlag]featureSpec{
	FeatureSignatureBypass: {
		label:       "Disable Signature Verification",
		token:       "signature",
		input:       "enable_signature_bypass",
		minPlatform: 13,
		requires:    NewArtifactSet(ArtifactFramework, ArtifactServices, ArtifactMiuiServices),
	},
	FeatureCNNotificationFix: {
		label:       "CN Notification Fix",
		token:       "cn_notif",
		input:       "enable_cn_notification_fix",
		minPlatform: 15,
		requires:    NewArtifactSet(ArtifactMiuiServices),
	},
	FeatureDisableSecureFlag: {
		label:       "Disable Secure Flag",
		token:       "secure_flag",
		input:       "enable_disable_secure_flag",
		minPlatform: 15,
		requires:    NewArtifactSet(ArtifactServices, ArtifactMiuiServices),
	},
}

// Label is the human readable name of the flag.
func (f FeatureFlag) Label() string { return featureTable[f].label }

// Token is the short callback token suffix for the flag.
func (f FeatureFlag) Token() string { return featureTable[f].token }

// InputName is the workflow input that carries the flag.
func (f FeatureFlag) InputName() string { return featureTable[f].input }

// Requires returns the artifacts the flag patches.
func (f FeatureFlag) Requires() ArtifactSet { return featureTable[f].requires }

// AvailableOn reports whether the flag can be applied to the platform version.
func (f FeatureFlag) AvailableOn(p Platform) bool {
	spec, ok := featureTable[f]
	if !ok {
		return false
	}
	v, err := strconv.Atoi(p.Version)
	if err != nil {
		return false
	}
	return v >= spec.minPlatform
}

// FeatureFromToken resolves a callback token suffix.
func FeatureFromToken(token string) (FeatureFlag, bool) {
	for _, f := range FeatureOrder {
		if featureTable[f].token == token {
			return f, true
		}
	}
	return "", false
}

// FeatureSet is the set of enabled flags.
type FeatureSet map[FeatureFlag]bool

// Toggle flips one flag and returns its new value.
func (s FeatureSet) Toggle(f FeatureFlag) bool {
	if s[f] {
		delete(s, f)
		return false
	}
	s[f] = true
	return true
}

// Enabled returns the enabled flags in canonical order.
func (s FeatureSet) Enabled() []FeatureFlag {
	var out []FeatureFlag
	for _, f := range FeatureOrder {
		if s[f] {
			out = append(out, f)
		}
	}
	return out
}

// Empty reports whether no flag is enabled.
func (s FeatureSet) Empty() bool {
	return len(s.Enabled()) == 0
}

// Clone copies the set.
func (s FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(s))
	for f, on := range s {
		if on {
			out[f] = true
		}
	}
	return out
}

// RequiredArtifacts is the union of the requirement table entries of the
// enabled flags, falling back to the baseline flag when the union is empty.
func (s FeatureSet) RequiredArtifacts() ArtifactSet {
	required := NewArtifactSet()
	for _, f := range s.Enabled() {
		required = required.Union(f.Requires())
	}
	if len(required) == 0 {
		return BaselineFeature.Requires().Union(nil)
	}
	return required
}
