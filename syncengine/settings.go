// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/hgsk0523/R05PMJ/config"
	"github.com/hgsk0523/R05PMJ/inspectstore"
)

// settingsDocumentKey is the object key of the settings document inside
// the configuration bucket.
const settingsDocumentKey = "settings.json"

// RefreshSettings fetches the settings document from the configuration
// bucket. When the document version advanced, the example-photo cache is
// rebuilt and the new document is cached on disk. The polling interval
// follows the new document.
func (e *Engine) RefreshSettings(ctx context.Context) error {
	raw, err := e.api.DownloadImage(ctx, e.configBucket, settingsDocumentKey)
	if err != nil {
		return fmt.Errorf("fetch settings document: %w", err)
	}
	fresh, err := config.ParseSettings(raw)
	if err != nil {
		return err
	}

	e.mu.Lock()
	changed := e.settings == nil || fresh.Version != e.settings.Version
	e.settings = fresh
	if fresh.PollingPeriod > 0 {
		e.pollInterval = time.Duration(fresh.PollingPeriod) * time.Second
	}
	e.mu.Unlock()

	if e.settingsCachePath != "" {
		if err := config.SaveCache(e.settingsCachePath, fresh); err != nil {
			// Cache miss on next launch just refetches the document.
			e.logger.Warn("settings cache write failed", "error", err)
		}
	}

	if changed {
		if err := e.images.PurgeExamples(); err != nil {
			e.logger.Warn("example cache purge failed", "error", err)
		}
		for _, insp := range fresh.Settings {
			if err := e.RefreshExamplePhotos(ctx, insp.InspectionNameID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RefreshExamplePhotos downloads the reference photos configured for one
// inspection name and records them in the store. Individual photo
// failures are logged and skipped; the catalog keeps whatever downloaded.
func (e *Engine) RefreshExamplePhotos(ctx context.Context, inspectionNameID int64) error {
	settings := e.currentSettings()
	if settings == nil {
		return fmt.Errorf("settings document not loaded")
	}

	var photos []inspectstore.SamplePhoto
	for _, insp := range settings.Settings {
		if insp.InspectionNameID != inspectionNameID {
			continue
		}
		for _, item := range insp.Items {
			for _, ref := range item.SamplePhotos {
				data, err := e.api.DownloadImage(ctx, e.configBucket, ref.Path)
				if err != nil {
					e.logger.Warn("sample photo download failed",
						"path", ref.Path, "error", err)
					continue
				}
				localPath := e.images.ExamplePath(inspectionNameID, item.ItemNameID, ref.FileName)
				if err := e.images.WriteExample(localPath, data); err != nil {
					e.logger.Warn("sample photo write failed",
						"path", localPath, "error", err)
					continue
				}
				photos = append(photos, inspectstore.SamplePhoto{
					InspectionNameID: inspectionNameID,
					ItemNameID:       item.ItemNameID,
					FileName:         ref.FileName,
					Explanation:      ref.Explanation,
					LocalPath:        localPath,
					RemotePath:       ref.Path,
				})
			}
		}
	}

	if err := e.store.ReplaceSamplePhotos(ctx, inspectionNameID, photos); err != nil {
		return fmt.Errorf("persist sample photo catalog: %w", err)
	}
	return nil
}

// SamplePhotos lists the cached reference photos for one item name.
func (e *Engine) SamplePhotos(ctx context.Context, inspectionNameID, itemNameID int64) ([]inspectstore.SamplePhoto, error) {
	return e.store.QuerySamplePhotos(ctx, inspectionNameID, itemNameID)
}

// CleanupImages removes captured image folders past the configured
// retention period. Best-effort.
func (e *Engine) CleanupImages() {
	retention := 0
	if settings := e.currentSettings(); settings != nil {
		retention = settings.DataRetentionPeriod
	}
	e.images.CleanupOld(retention)
}
