// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hgsk0523/R05PMJ/imagefs"
	"github.com/hgsk0523/R05PMJ/inspectstore"
	"github.com/hgsk0523/R05PMJ/retryx"
)

// Items lists the active (non-deleted) items of the current session.
// Server-known items come first, ordered by their server item id; local-only
// items follow in creation order.
func (e *Engine) Items(ctx context.Context) ([]inspectstore.InspectionItem, error) {
	insp, err := e.Inspection(ctx)
	if err != nil {
		return nil, err
	}
	items, err := e.store.QueryItems(ctx, insp.InspectionID, true)
	if err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

func sortItems(items []inspectstore.InspectionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.ItemID.Valid && b.ItemID.Valid:
			return a.ItemID.Int64 < b.ItemID.Int64
		case a.ItemID.Valid:
			return true
		default:
			return false
		}
	})
}

// AddItem creates an ad-hoc item with the given name. The name must pass
// the guideline character rules and be unique among current items; the
// workflow must not be terminal.
func (e *Engine) AddItem(ctx context.Context, name string) (*inspectstore.InspectionItem, error) {
	if err := validateItemName(name); err != nil {
		return nil, err
	}
	name = trimSpaces(name)

	insp, err := e.Inspection(ctx)
	if err != nil {
		return nil, err
	}
	if insp.Status.Terminal() {
		return nil, fmt.Errorf("%w: inspection is closed", ErrInvalidState)
	}

	existing, err := e.store.QueryItems(ctx, insp.InspectionID, true)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	if len(existing) >= MaxItems {
		return nil, validationErr("itemName", "item limit reached")
	}
	for _, item := range existing {
		if item.ItemName == name {
			return nil, validationErr("itemName", "duplicate item name")
		}
	}

	now := time.Now().UTC()
	item := inspectstore.InspectionItem{
		ItemUUID:     uuid.NewString(),
		InspectionID: insp.InspectionID,
		ItemName:     name,
		Progress:     inspectstore.ProgressWaitingForCapture,
		AnalysisType: inspectstore.AnalysisNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.UpsertItem(ctx, &item)
	})
	if err != nil {
		return nil, fmt.Errorf("persist item: %w", err)
	}
	return &item, nil
}

// DeleteItem tombstones a server-known item or removes a local-only one.
func (e *Engine) DeleteItem(ctx context.Context, itemUUID string) error {
	insp, err := e.Inspection(ctx)
	if err != nil {
		return err
	}
	if insp.Status.Terminal() {
		return fmt.Errorf("%w: inspection is closed", ErrInvalidState)
	}
	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.DeleteItem(ctx, itemUUID)
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// EditResult overwrites the operator-corrected model and serial number.
// The raw OCR output is never touched.
func (e *Engine) EditResult(ctx context.Context, itemUUID, model, serialNumber string) error {
	if err := validateModel(model); err != nil {
		return err
	}
	if err := validateSerialNumber(serialNumber); err != nil {
		return err
	}
	return e.updateItem(ctx, itemUUID, func(item *inspectstore.InspectionItem) error {
		item.EditedModel = trimSpaces(model)
		item.EditedSerialNumber = trimSpaces(serialNumber)
		return nil
	})
}

// SaveNGComment records the operator's explanation for a failed item.
func (e *Engine) SaveNGComment(ctx context.Context, itemUUID, comment string) error {
	if err := validateNGComment(comment); err != nil {
		return err
	}
	return e.updateItem(ctx, itemUUID, func(item *inspectstore.InspectionItem) error {
		item.NGComment = sql.NullString{String: trimSpaces(comment), Valid: true}
		return nil
	})
}

// CaptureAndStage writes both captured images to their deterministic local
// locations and records the path pair. The database update is the durable
// commit point; an orphaned file after a failed update is collected by
// retention cleanup.
func (e *Engine) CaptureAndStage(ctx context.Context, itemUUID string, original, cropped []byte) error {
	insp, err := e.Inspection(ctx)
	if err != nil {
		return err
	}
	item, err := e.getItem(ctx, itemUUID)
	if err != nil {
		return err
	}

	takenAt := time.Now()
	paths := e.images.CapturePaths(takenAt, insp.InspectionName, insp.WorksheetCode, item.ItemUUID)
	if err := e.images.WriteCapture(paths, original, cropped); err != nil {
		return fmt.Errorf("stage capture: %w", err)
	}

	item.TakenAt = sql.NullTime{Time: takenAt.UTC(), Valid: true}
	item.LocalOriginalImagePath = paths.LocalOriginal
	item.LocalCroppedImagePath = paths.LocalCropped
	item.RemoteOriginalImagePath = paths.RemoteOriginal
	item.RemoteCroppedImagePath = paths.RemoteCropped
	item.Progress = inspectstore.ProgressSavedLocally
	item.UpdatedAt = time.Now().UTC()
	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.UpsertItem(ctx, item)
	})
	if err != nil {
		return fmt.Errorf("persist staged capture: %w", err)
	}

	// The first saved photo moves the session out of Waiting.
	if insp.Status == inspectstore.StatusWaiting {
		err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
			return e.store.UpdateInspectionStatus(ctx, insp.InspectionID, inspectstore.StatusUnderInspection)
		})
		if err != nil {
			return fmt.Errorf("update inspection status: %w", err)
		}
	}
	return nil
}

// UploadCapturedImages pushes the staged pair to object storage, original
// strictly before cropped. Partial-failure recovery tells "neither" from
// "only original" by progress alone, so the order is load-bearing. On full
// success progress becomes SavedRemotely for ai/ocr items and jumps to
// AnalysisCompleted for items that need no server analysis. On failure
// progress is untouched so the operator can resend.
func (e *Engine) UploadCapturedImages(ctx context.Context, itemUUID string) error {
	item, err := e.getItem(ctx, itemUUID)
	if err != nil {
		return err
	}
	if item.Progress < inspectstore.ProgressSavedLocally {
		return fmt.Errorf("%w: nothing staged for upload", ErrInvalidState)
	}

	paths := imagefs.CapturePaths{
		LocalOriginal:  item.LocalOriginalImagePath,
		LocalCropped:   item.LocalCroppedImagePath,
		RemoteOriginal: item.RemoteOriginalImagePath,
		RemoteCropped:  item.RemoteCroppedImagePath,
	}
	if !e.images.HasCapture(paths) {
		return validationErr("image", "staged images are missing, capture again")
	}
	original, cropped, err := e.images.ReadCapture(paths)
	if err != nil {
		return fmt.Errorf("read staged images: %w", err)
	}

	bucket := e.bucketName()
	if err := e.api.UploadImage(ctx, bucket, paths.RemoteOriginal, original); err != nil {
		return fmt.Errorf("upload original: %w", err)
	}
	if err := e.api.UploadImage(ctx, bucket, paths.RemoteCropped, cropped); err != nil {
		return fmt.Errorf("upload cropped: %w", err)
	}

	next := inspectstore.ProgressAnalysisCompleted
	if item.AnalysisType == inspectstore.AnalysisAI || item.AnalysisType == inspectstore.AnalysisOCR {
		next = inspectstore.ProgressSavedRemotely
	}
	return e.updateItem(ctx, itemUUID, func(item *inspectstore.InspectionItem) error {
		item.Progress = next
		return nil
	})
}

// RequestItemAnalysis asks the backend to analyze an uploaded item. Only
// valid once both images are remote; a second request for the same item is
// rejected until the first resolves.
func (e *Engine) RequestItemAnalysis(ctx context.Context, itemUUID string) error {
	item, err := e.getItem(ctx, itemUUID)
	if err != nil {
		return err
	}
	if item.Progress != inspectstore.ProgressSavedRemotely {
		return fmt.Errorf("%w: images not uploaded yet", ErrInvalidState)
	}
	if !item.ItemID.Valid {
		return fmt.Errorf("%w: item has no server id", ErrInvalidState)
	}

	e.mu.Lock()
	if _, busy := e.analysisInFlight[itemUUID]; busy {
		e.mu.Unlock()
		return ErrAnalysisInFlight
	}
	e.analysisInFlight[itemUUID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.analysisInFlight, itemUUID)
		e.mu.Unlock()
	}()

	ticket, err := e.api.RequestAnalysis(ctx, item.InspectionID, item.ItemID.Int64,
		e.bucketName(), item.RemoteOriginalImagePath, item.RemoteCroppedImagePath)
	if err != nil {
		return fmt.Errorf("request analysis: %w", err)
	}

	return e.updateItem(ctx, itemUUID, func(item *inspectstore.InspectionItem) error {
		item.Progress = inspectstore.Progress(ticket.Progress)
		if ticket.Version > item.Version {
			item.Version = ticket.Version
		}
		return nil
	})
}

func (e *Engine) getItem(ctx context.Context, itemUUID string) (*inspectstore.InspectionItem, error) {
	item, err := e.store.GetItemByUUID(ctx, itemUUID)
	if errors.Is(err, inspectstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: item %s", inspectstore.ErrNotFound, itemUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	return item, nil
}

// updateItem applies mutate to a fresh copy of the item and persists it
// with the store retry budget.
func (e *Engine) updateItem(ctx context.Context, itemUUID string, mutate func(*inspectstore.InspectionItem) error) error {
	item, err := e.getItem(ctx, itemUUID)
	if err != nil {
		return err
	}
	if err := mutate(item); err != nil {
		return err
	}
	item.UpdatedAt = time.Now().UTC()
	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.UpsertItem(ctx, item)
	})
	if err != nil {
		return fmt.Errorf("persist item: %w", err)
	}
	return nil
}
