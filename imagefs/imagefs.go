// Package imagefs manages captured and reference images on the local
// filesystem: deterministic path derivation, free-space gating, and
// age-based retention cleanup.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package imagefs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// CapacityFloor is the free-space minimum required before staging a
	// capture.
	CapacityFloor int64 = 200_000_000

	croppedDir = "cropped"
	dateLayout = "20060102"
)

// ErrInsufficientStorage means free device capacity is below the floor; it
// is checked before any write.
var ErrInsufficientStorage = errors.New("insufficient storage")

// CapturePaths pairs the local file locations of one capture with the
// object-storage keys they upload to.
type CapturePaths struct {
	LocalOriginal  string
	LocalCropped   string
	RemoteOriginal string
	RemoteCropped  string
}

// Manager owns the capture and example image roots.
type Manager struct {
	captureRoot string
	exampleRoot string
	// freeSpace is swappable for tests.
	freeSpace func(path string) (int64, error)
	logger    *slog.Logger
}

// NewManager builds a Manager rooted at captureRoot/exampleRoot.
func NewManager(captureRoot, exampleRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		captureRoot: captureRoot,
		exampleRoot: exampleRoot,
		freeSpace:   diskFree,
		logger:      logger,
	}
}

// CapturePaths derives the deterministic locations for one item's capture:
// date / inspection name / worksheet code, with croppings in a subfolder.
// The remote keys mirror the local layout relative to the capture root.
func (m *Manager) CapturePaths(takenAt time.Time, inspectionName, worksheetCode, itemUUID string) CapturePaths {
	date := takenAt.Format(dateLayout)
	file := itemUUID + ".jpg"
	rel := filepath.Join(date, inspectionName, worksheetCode)
	return CapturePaths{
		LocalOriginal:  filepath.Join(m.captureRoot, rel, file),
		LocalCropped:   filepath.Join(m.captureRoot, rel, croppedDir, file),
		RemoteOriginal: rel + "/" + file,
		RemoteCropped:  rel + "/" + croppedDir + "/" + file,
	}
}

// WriteCapture stages both images. Free space is verified before any write;
// a failure between the two writes may leave an orphan file, which retention
// cleanup collects later.
func (m *Manager) WriteCapture(paths CapturePaths, original, cropped []byte) error {
	free, err := m.freeSpace(m.captureRoot)
	if err != nil {
		return fmt.Errorf("check free space: %w", err)
	}
	if free < CapacityFloor {
		return fmt.Errorf("%w: %d bytes free", ErrInsufficientStorage, free)
	}

	if err := writeFile(paths.LocalOriginal, original); err != nil {
		return fmt.Errorf("write original image: %w", err)
	}
	if err := writeFile(paths.LocalCropped, cropped); err != nil {
		return fmt.Errorf("write cropped image: %w", err)
	}
	return nil
}

// ReadCapture loads both staged images for upload or resend.
func (m *Manager) ReadCapture(paths CapturePaths) (original, cropped []byte, err error) {
	if original, err = os.ReadFile(paths.LocalOriginal); err != nil {
		return nil, nil, fmt.Errorf("read original image: %w", err)
	}
	if cropped, err = os.ReadFile(paths.LocalCropped); err != nil {
		return nil, nil, fmt.Errorf("read cropped image: %w", err)
	}
	return original, cropped, nil
}

// HasCapture reports whether both staged files still exist locally.
func (m *Manager) HasCapture(paths CapturePaths) bool {
	for _, p := range []string{paths.LocalOriginal, paths.LocalCropped} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// ExamplePath locates a cached reference photo.
func (m *Manager) ExamplePath(inspectionNameID, itemNameID int64, fileName string) string {
	return filepath.Join(m.exampleRoot,
		strconv.FormatInt(inspectionNameID, 10),
		strconv.FormatInt(itemNameID, 10),
		fileName)
}

// WriteExample caches a downloaded reference photo.
func (m *Manager) WriteExample(path string, data []byte) error {
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("write example image: %w", err)
	}
	return nil
}

// PurgeExamples drops the whole example cache. Called when the settings
// document version changes.
func (m *Manager) PurgeExamples() error {
	if err := os.RemoveAll(m.exampleRoot); err != nil {
		return fmt.Errorf("purge example images: %w", err)
	}
	return nil
}

// CleanupOld removes capture folders older than retentionDays. Folder names
// are the capture dates, so age comes from the name rather than file mtimes.
// Best-effort: failures are logged and skipped.
func (m *Manager) CleanupOld(retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(m.captureRoot)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("retention scan failed", "root", m.captureRoot, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.Parse(dateLayout, entry.Name())
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		target := filepath.Join(m.captureRoot, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			m.logger.Warn("retention delete failed", "path", target, "error", err)
			continue
		}
		m.logger.Debug("removed expired capture folder", "path", target)
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
