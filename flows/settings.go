// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package flows

import (
	"context"
	"encoding/json"
	"os"

	"github.com/als-computing/tierflow/config"
)

// Retention holds the number of days copies stay on the upstream tiers
// after a move before they are pruned.
type Retention struct {
	AcquisitionDays int `json:"acquisition_days"`
	StagingDays     int `json:"staging_days"`
}

// SettingsSource supplies retention windows. Sources are consulted on every
// move, so changes take effect without a restart.
type SettingsSource interface {
	Retention(ctx context.Context) (Retention, error)
}

// StaticSettings is a SettingsSource with fixed retention windows.
type StaticSettings Retention

func (s StaticSettings) Retention(ctx context.Context) (Retention, error) {
	return Retention(s), nil
}

// FileSettings reads retention windows from a JSON settings document each
// time they are requested. Windows absent from the document keep their
// defaults.
type FileSettings struct {
	Path     string
	Defaults Retention
}

// settings document keys; the beamline-specific names are accepted for
// existing settings documents, and the tier names take precedence
type settingsDocument struct {
	AcquisitionDays *int `json:"delete_acquisition_files_after_days"`
	StagingDays     *int `json:"delete_staging_files_after_days"`
	Spot832Days     *int `json:"delete_spot832_files_after_days"`
	Data832Days     *int `json:"delete_data832_files_after_days"`
}

func (s FileSettings) Retention(ctx context.Context) (Retention, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Retention{}, &SettingsError{Path: s.Path, Message: err.Error()}
	}
	var doc settingsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Retention{}, &SettingsError{Path: s.Path, Message: err.Error()}
	}
	retention := s.Defaults
	for _, days := range []*int{doc.Spot832Days, doc.AcquisitionDays} {
		if days != nil {
			retention.AcquisitionDays = *days
		}
	}
	for _, days := range []*int{doc.Data832Days, doc.StagingDays} {
		if days != nil {
			retention.StagingDays = *days
		}
	}
	if retention.AcquisitionDays < 0 {
		return Retention{}, &InvalidThresholdError{Days: retention.AcquisitionDays}
	}
	if retention.StagingDays < 0 {
		return Retention{}, &InvalidThresholdError{Days: retention.StagingDays}
	}
	return retention, nil
}

// NewSettingsSource returns the settings source described by the retention
// configuration: the settings file if one is given, and the configured
// windows otherwise.
func NewSettingsSource(conf config.RetentionConfig) SettingsSource {
	defaults := Retention{
		AcquisitionDays: conf.AcquisitionDays,
		StagingDays:     conf.StagingDays,
	}
	if conf.SettingsFile != "" {
		return FileSettings{Path: conf.SettingsFile, Defaults: defaults}
	}
	return StaticSettings(defaults)
}
