// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package inspectstore

import (
	"database/sql"
	"time"
)

// Status is the per-inspection aggregate workflow stage.
type Status int

const (
	StatusWaiting Status = iota
	StatusUnderInspection
	StatusReInspection
	StatusPartiallyCompleted
	StatusCompleted
)

// Terminal reports whether the workflow accepts no further edits in the
// normal flow.
func (s Status) Terminal() bool {
	return s == StatusPartiallyCompleted || s == StatusCompleted
}

// Progress is the per-item pipeline stage.
type Progress int

const (
	ProgressWaitingForCapture Progress = iota
	ProgressSavedLocally
	ProgressSavedRemotely
	ProgressAnalysisRequested
	ProgressAnalyzing
	ProgressAnalysisCompleted
)

// AnalysisType classifies how an item's photograph is processed server-side.
type AnalysisType string

const (
	AnalysisOCR   AnalysisType = "ocr"
	AnalysisAI    AnalysisType = "ai"
	AnalysisOther AnalysisType = "other"
	AnalysisNone  AnalysisType = "none"
)

// Inspection is the single on-device inspection session header.
type Inspection struct {
	InspectionID            int64
	InspectionNameID        int64
	InspectionName          string
	WorksheetCode           string
	ReceiptConfirmationDate string
	ScheduledDate           string
	Model                   string
	ClientName              string
	Status                  Status
	CompanyCode             string
	BaseCode                string
	WorkerCode              string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// InspectionItem is one checklist entry; ItemUUID is the only stable
// client-side key, ItemID stays null until the server first assigns one.
type InspectionItem struct {
	ItemUUID                string
	ItemID                  sql.NullInt64
	InspectionID            int64
	ItemNameID              sql.NullInt64
	ItemName                string
	TakenAt                 sql.NullTime
	LocalOriginalImagePath  string
	LocalCroppedImagePath   string
	RemoteOriginalImagePath string
	RemoteCroppedImagePath  string
	AnalysisResult          string
	Model                   string
	SerialNumber            string
	EditedModel             string
	EditedSerialNumber      string
	Progress                Progress
	NGComment               sql.NullString
	DeleteFlag              bool
	AnalysisType            AnalysisType
	Version                 int64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SamplePhoto is read-only reference imagery for an item name, refreshed
// whenever the remote settings document changes.
type SamplePhoto struct {
	SampleID         int64
	InspectionNameID int64
	ItemNameID       int64
	FileName         string
	Explanation      string
	LocalPath        string
	RemotePath       string
}
