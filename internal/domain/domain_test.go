package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadReferenceLinks(t *testing.T) {
	ref := NewUploadReference("abc123")
	assert.Equal(t, "abc123", ref.ID())
	assert.Equal(t, "https://pixeldrain.com/api/file/abc123", ref.DirectURL())
	assert.Equal(t, "https://pixeldrain.com/u/abc123", ref.ShareURL())
	assert.Equal(t, ref, NewUploadReference("abc123"))
	assert.True(t, UploadReference{}.IsZero())
}

func TestArtifactKindFromFileName(t *testing.T) {
	tests := []struct {
		name    string
		want    ArtifactKind
		wantErr bool
	}{
		{name: "framework.jar", want: ArtifactFramework},
		{name: "Services.JAR", want: ArtifactServices},
		{name: "dir/miui-services.jar", want: ArtifactMiuiServices},
		{name: "miui_services.jar", wantErr: true},
		{name: "framework.zip", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArtifactKindFromFileName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiredArtifacts(t *testing.T) {
	tests := []struct {
		name     string
		features []FeatureFlag
		want     []ArtifactKind
	}{
		{name: "empty falls back to baseline", want: []ArtifactKind{ArtifactFramework, ArtifactServices, ArtifactMiuiServices}},
		{name: "notification fix", features: []FeatureFlag{FeatureCNNotificationFix}, want: []ArtifactKind{ArtifactMiuiServices}},
		{name: "secure flag", features: []FeatureFlag{FeatureDisableSecureFlag}, want: []ArtifactKind{ArtifactServices, ArtifactMiuiServices}},
		{
			name:     "union",
			features: []FeatureFlag{FeatureCNNotificationFix, FeatureDisableSecureFlag},
			want:     []ArtifactKind{ArtifactServices, ArtifactMiuiServices},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := FeatureSet{}
			for _, f := range tt.features {
				set.Toggle(f)
			}
			assert.Equal(t, tt.want, set.RequiredArtifacts().Kinds())
		})
	}
}

func TestFeatureAvailability(t *testing.T) {
	p13, err := PlatformFromVersion("13")
	require.NoError(t, err)
	p15, err := PlatformFromVersion("15")
	require.NoError(t, err)

	assert.True(t, FeatureSignatureBypass.AvailableOn(p13))
	assert.False(t, FeatureCNNotificationFix.AvailableOn(p13))
	assert.True(t, FeatureCNNotificationFix.AvailableOn(p15))
	assert.True(t, FeatureDisableSecureFlag.AvailableOn(p15))
}

func TestPlatform(t *testing.T) {
	p, err := PlatformFromVersion(" 16 ")
	require.NoError(t, err)
	assert.Equal(t, Platform{Version: "16", APILevel: "36"}, p)

	p, err = PlatformFromAPILevel("33")
	require.NoError(t, err)
	assert.Equal(t, "13", p.Version)

	_, err = PlatformFromVersion("12")
	assert.Error(t, err)
	_, err = PlatformFromVersion("beta")
	assert.Error(t, err)
}

func TestDispatchRequestInputs(t *testing.T) {
	platform, err := PlatformFromVersion("15")
	require.NoError(t, err)
	features := FeatureSet{}
	features.Toggle(FeatureCNNotificationFix)
	artifacts := map[ArtifactKind]UploadReference{
		ArtifactMiuiServices: NewUploadReference("m1"),
		ArtifactFramework:    NewUploadReference("extra"),
	}

	req, err := NewDispatchRequest("42", platform, "marble", "POCO F5", "OS1.0.5.0", artifacts, features)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"api_level":                  "35",
		"device_name":                "POCO F5",
		"version_name":               "OS1.0.5.0",
		"user_id":                    "42",
		"framework_url":              "",
		"services_url":               "",
		"miui_services_url":          "https://pixeldrain.com/u/m1",
		"enable_signature_bypass":    "false",
		"enable_cn_notification_fix": "true",
		"enable_disable_secure_flag": "false",
	}, req.Inputs())

	features.Toggle(FeatureSignatureBypass)
	assert.False(t, req.Features()[FeatureSignatureBypass], "request is frozen")
}

func TestDispatchRequestRequiresArtifacts(t *testing.T) {
	platform, err := PlatformFromVersion("15")
	require.NoError(t, err)
	features := FeatureSet{FeatureDisableSecureFlag: true}

	_, err = NewDispatchRequest("42", platform, "marble", "POCO F5", "OS1", map[ArtifactKind]UploadReference{
		ArtifactServices: NewUploadReference("s1"),
	}, features)
	assert.ErrorContains(t, err, "miui-services.jar")
}

func TestSoftwareDecoding(t *testing.T) {
	var sw Software
	err := json.Unmarshal([]byte(`{
		"name": "POCO F5",
		"codename": "marble",
		"firmware_versions": ["V1", 2],
		"miui_roms": [{"miui": "V14.0.1", "android": 13}, {"version": "OS2.0", "platform_version": "15"}, {}]
	}`), &sw)
	require.NoError(t, err)

	assert.Equal(t, []string{"V1", "2"}, sw.FirmwareVersions)
	require.Len(t, sw.Roms, 3)
	assert.Equal(t, RomEntry{Version: "V14.0.1", PlatformVersion: "13"}, sw.Roms[0])
	assert.Equal(t, "OS2.0 (Android 15)", sw.Roms[1].Label())
	assert.Equal(t, "Unknown (Android ?)", sw.Roms[2].Label())
	assert.False(t, sw.Empty())
}

func TestSessionAdvance(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sess := NewSession("42", start)
	assert.Equal(t, StateAwaitVersion, sess.State())

	sess.Advance(AwaitFeatures{Features: FeatureSet{}}, start.Add(time.Minute))
	assert.Equal(t, StateAwaitFeatures, sess.State())
	assert.Equal(t, 4*time.Minute, sess.IdleFor(start.Add(5*time.Minute)))
	assert.Equal(t, "AWAIT_FEATURES", sess.State().String())
}
