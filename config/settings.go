// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Settings is the versioned document kept in the configuration bucket. It
// names the image bucket, the polling and retention periods, and the static
// per-item analysis settings keyed by inspection name.
type Settings struct {
	Version             int                 `json:"version"`
	BucketName          string              `json:"bucketName"`
	PollingPeriod       int                 `json:"pollingPeriod"`       // seconds
	DataRetentionPeriod int                 `json:"dataRetentionPeriod"` // days
	Settings            []InspectionSetting `json:"settings"`
}

// InspectionSetting is the item catalog for one inspection name.
type InspectionSetting struct {
	InspectionNameID int64         `json:"inspectionNameId"`
	InspectionName   string        `json:"inspectionName"`
	Items            []ItemSetting `json:"items"`
}

// ItemSetting fixes an item name's analysis type and its reference photos.
type ItemSetting struct {
	ItemNameID   int64           `json:"itemNameId"`
	ItemName     string          `json:"itemName"`
	AnalysisType string          `json:"analysisType"` // ocr | ai | other
	Comment      string          `json:"comment"`
	SamplePhotos []SamplePhotoRef `json:"samplePhotos"`
}

// SamplePhotoRef locates one reference photo inside the configuration
// bucket.
type SamplePhotoRef struct {
	FileName    string `json:"fileName"`
	Explanation string `json:"explanation"`
	Path        string `json:"path"`
}

// ParseSettings decodes the settings document.
func ParseSettings(raw []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse settings document: %w", err)
	}
	if s.BucketName == "" {
		return nil, fmt.Errorf("settings document: bucketName is required")
	}
	return &s, nil
}

// AnalysisTypeFor resolves the analysis type configured for an item name.
// Items missing from the catalog (ad-hoc items) report "none".
func (s *Settings) AnalysisTypeFor(inspectionNameID, itemNameID int64) string {
	if setting, ok := s.itemSetting(inspectionNameID, itemNameID); ok {
		return setting.AnalysisType
	}
	return "none"
}

// ItemSettingFor returns the full per-item setting when the catalog has one.
func (s *Settings) ItemSettingFor(inspectionNameID, itemNameID int64) (ItemSetting, bool) {
	return s.itemSetting(inspectionNameID, itemNameID)
}

func (s *Settings) itemSetting(inspectionNameID, itemNameID int64) (ItemSetting, bool) {
	for _, insp := range s.Settings {
		if insp.InspectionNameID != inspectionNameID {
			continue
		}
		for _, item := range insp.Items {
			if item.ItemNameID == itemNameID {
				return item, true
			}
		}
	}
	return ItemSetting{}, false
}

// SaveCache writes the settings document to disk so sessions can start
// without refetching it.
func SaveCache(path string, s *Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings cache: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write settings cache: %w", err)
	}
	return nil
}

// LoadCache reads a previously cached settings document.
func LoadCache(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings cache: %w", err)
	}
	return ParseSettings(raw)
}
