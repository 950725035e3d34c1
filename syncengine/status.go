// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"github.com/hgsk0523/R05PMJ/inspectstore"
)

// Analysis result sentinels produced by the backend.
const (
	ResultOK        = "OK"
	ResultNG        = "NG"
	OCRFailure      = "ReadError"
	AnalysisFailure = "解析失敗"
)

// FailureReason categorizes the first failing item found by the finish
// scan; the presentation layer maps it to a dialog message.
type FailureReason int

const (
	FailureNone FailureReason = iota
	// FailureNotCompleted: an ocr/ai item whose analysis has not finished.
	FailureNotCompleted
	// FailureOCRUnreadable: OCR could not read model or serial and the
	// operator entered no correction.
	FailureOCRUnreadable
	// FailureNGWithoutComment: an NG verdict lacks the mandatory comment.
	FailureNGWithoutComment
	// FailureAnalysisFailedWithoutComment: the AI analysis itself failed
	// and the operator entered no comment. Shown as its own dialog since
	// the remedy differs from a plain NG.
	FailureAnalysisFailedWithoutComment
	// FailureNotCaptured: a non-analyzed item has no photo yet.
	FailureNotCaptured
)

// FinishReport is the outcome of the finish-inspection scan.
type FinishReport struct {
	Status   inspectstore.Status
	Reason   FailureReason
	ItemName string // first failing item, empty when Reason is FailureNone
}

// Failed reports whether the scan found at least one failing item.
func (r FinishReport) Failed() bool { return r.Reason != FailureNone }

// ComputeStatus derives the terminal workflow status from the non-deleted
// item list. It is a pure function: recomputing over an unchanged list
// yields the same report. The first failing item in list order
// short-circuits the scan.
func ComputeStatus(items []inspectstore.InspectionItem, editable bool) FinishReport {
	for _, item := range items {
		if item.DeleteFlag {
			continue
		}
		if reason := classifyItem(item); reason != FailureNone {
			status := inspectstore.StatusPartiallyCompleted
			if editable {
				status = inspectstore.StatusReInspection
			}
			return FinishReport{Status: status, Reason: reason, ItemName: item.ItemName}
		}
	}
	status := inspectstore.StatusCompleted
	if editable {
		status = inspectstore.StatusReInspection
	}
	return FinishReport{Status: status}
}

func classifyItem(item inspectstore.InspectionItem) FailureReason {
	switch item.AnalysisType {
	case inspectstore.AnalysisOCR:
		if item.Progress != inspectstore.ProgressAnalysisCompleted {
			return FailureNotCompleted
		}
		if item.Model == OCRFailure && item.EditedModel == "" {
			return FailureOCRUnreadable
		}
		if item.SerialNumber == OCRFailure && item.EditedSerialNumber == "" {
			return FailureOCRUnreadable
		}
	case inspectstore.AnalysisAI:
		if item.Progress != inspectstore.ProgressAnalysisCompleted {
			return FailureNotCompleted
		}
		hasComment := item.NGComment.Valid && trimSpaces(item.NGComment.String) != ""
		if item.AnalysisResult == ResultNG && !hasComment {
			return FailureNGWithoutComment
		}
		if item.AnalysisResult == AnalysisFailure && !hasComment {
			return FailureAnalysisFailedWithoutComment
		}
	default:
		if item.Progress == inspectstore.ProgressWaitingForCapture {
			return FailureNotCaptured
		}
	}
	return FailureNone
}

// CanFinish reports whether the finish action is currently allowed: no
// item may have an analysis request in flight server-side.
func CanFinish(items []inspectstore.InspectionItem) bool {
	for _, item := range items {
		if item.DeleteFlag {
			continue
		}
		if item.Progress == inspectstore.ProgressAnalysisRequested ||
			item.Progress == inspectstore.ProgressAnalyzing {
			return false
		}
	}
	return true
}
