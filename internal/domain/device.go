package domain

import (
	"encoding/json"
	"fmt"
)

// Device is a catalog entry mapping a marketing name to its codename.
type Device struct {
	Name     string `json:"name"`
	Codename string `json:"codename"`
}

// RomEntry is one software build published for a device.
type RomEntry struct {
	Version         string `json:"version"`
	PlatformVersion string `json:"platform_version"`
}

// UnmarshalJSON accepts both the normalized field names and the ones the
// catalog service emits for MIUI/HyperOS builds.
func (r *RomEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version         string          `json:"version"`
		Miui            string          `json:"miui"`
		PlatformVersion json.RawMessage `json:"platform_version"`
		Android         json.RawMessage `json:"android"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Version = raw.Version
	if r.Version == "" {
		r.Version = raw.Miui
	}
	if r.Version == "" {
		r.Version = "Unknown"
	}
	platform := raw.PlatformVersion
	if len(platform) == 0 {
		platform = raw.Android
	}
	r.PlatformVersion = scalarString(platform)
	return nil
}

// scalarString renders a JSON string or number as text; anything else is "".
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Label renders the entry for selection lists.
func (r RomEntry) Label() string {
	platform := r.PlatformVersion
	if platform == "" {
		platform = "?"
	}
	return fmt.Sprintf("%s (Android %s)", r.Version, platform)
}

// Software is the catalog payload for one codename.
type Software struct {
	Name             string     `json:"name"`
	Codename         string     `json:"codename"`
	FirmwareVersions []string   `json:"firmware_versions"`
	Roms             []RomEntry `json:"software_roms"`
}

// UnmarshalJSON accepts "miui_roms" as an alias of "software_roms", and
// firmware versions given as numbers.
func (s *Software) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name             string            `json:"name"`
		Codename         string            `json:"codename"`
		FirmwareVersions []json.RawMessage `json:"firmware_versions"`
		Roms             []RomEntry        `json:"software_roms"`
		MiuiRoms         []RomEntry        `json:"miui_roms"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Software{Name: raw.Name, Codename: raw.Codename, Roms: raw.Roms}
	if len(s.Roms) == 0 {
		s.Roms = raw.MiuiRoms
	}
	for _, v := range raw.FirmwareVersions {
		if text := scalarString(v); text != "" {
			s.FirmwareVersions = append(s.FirmwareVersions, text)
		}
	}
	return nil
}

// Empty reports whether there is nothing to choose from.
func (s *Software) Empty() bool {
	return s == nil || len(s.Roms) == 0
}
