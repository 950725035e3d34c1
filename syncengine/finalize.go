// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/hgsk0523/R05PMJ/analysisapi"
	"github.com/hgsk0523/R05PMJ/inspectstore"
	"github.com/hgsk0523/R05PMJ/retryx"
)

// FinalizeSubmission computes the terminal status, reports completed items
// and tombstoned deletions to the backend in one shot, and tears the
// session down on success. evidenceID identifies the submission evidence
// record server-side; editable marks a re-inspection context, which
// resolves to StatusReInspection instead of a terminal status.
func (e *Engine) FinalizeSubmission(ctx context.Context, evidenceID int64, editable bool) (FinishReport, error) {
	insp, err := e.Inspection(ctx)
	if err != nil {
		return FinishReport{}, err
	}
	if insp.Status.Terminal() {
		return FinishReport{}, fmt.Errorf("%w: inspection already submitted", ErrInvalidState)
	}

	items, err := e.store.QueryItems(ctx, insp.InspectionID, true)
	if err != nil {
		return FinishReport{}, fmt.Errorf("query items: %w", err)
	}
	if !CanFinish(items) {
		return FinishReport{}, fmt.Errorf("%w: analysis still running", ErrInvalidState)
	}

	report := ComputeStatus(items, editable)

	resultItems := make([]analysisapi.ResultItem, 0, len(items))
	for _, item := range items {
		if item.Progress != inspectstore.ProgressAnalysisCompleted {
			continue
		}
		resultItems = append(resultItems, e.buildResultItem(item))
	}

	tombstones, err := e.store.QueryDeletedItems(ctx, insp.InspectionID)
	if err != nil {
		return FinishReport{}, fmt.Errorf("query deleted items: %w", err)
	}
	deleteList := make([]int64, 0, len(tombstones))
	for _, item := range tombstones {
		if item.ItemID.Valid {
			deleteList = append(deleteList, item.ItemID.Int64)
		}
	}

	err = e.api.SubmitFinalResult(ctx, insp.InspectionID, evidenceID, int(report.Status), resultItems, deleteList)
	if err != nil {
		return FinishReport{}, fmt.Errorf("submit final result: %w", err)
	}

	e.StopPolling()
	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.ClearInspectionDataset(ctx)
	})
	if err != nil {
		// The server accepted the submission; a leftover local dataset is
		// replaced by the next session ingestion anyway.
		e.logger.Warn("failed to clear dataset after submission", "error", err)
	}
	if e.onSessionEnd != nil {
		e.onSessionEnd()
	}
	e.logger.Info("inspection submitted",
		"inspectionId", insp.InspectionID, "status", int(report.Status),
		"results", len(resultItems), "deleted", len(deleteList))
	return report, nil
}

// buildResultItem reports the operator-corrected values where present and
// the image location as bucket-qualified path.
func (e *Engine) buildResultItem(item inspectstore.InspectionItem) analysisapi.ResultItem {
	model := item.Model
	if item.EditedModel != "" {
		model = item.EditedModel
	}
	serial := item.SerialNumber
	if item.EditedSerialNumber != "" {
		serial = item.EditedSerialNumber
	}
	out := analysisapi.ResultItem{
		ItemName:       item.ItemName,
		AnalysisResult: item.AnalysisResult,
		Model:          model,
		SerialNumber:   serial,
	}
	if item.ItemID.Valid {
		out.ItemID = item.ItemID.Int64
	}
	if item.ItemNameID.Valid {
		id := item.ItemNameID.Int64
		out.ItemNameID = &id
	}
	if item.NGComment.Valid {
		out.NGComment = item.NGComment.String
	}
	if item.RemoteOriginalImagePath != "" {
		out.ImagePath = e.bucketName() + "/" + item.RemoteOriginalImagePath
	}
	if item.TakenAt.Valid {
		out.TakenDt = item.TakenAt.Time.UTC().Format(time.RFC3339)
	}
	return out
}
