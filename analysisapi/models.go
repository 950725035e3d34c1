// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package analysisapi

import "encoding/json"

// Result codes use the 20000/40000/50000 class convention of the backend.
const (
	resultClassSuccess     = 20000
	resultClassClientError = 40000
	resultClassServerError = 50000
	resultClassWidth       = 10000
)

func isSuccessCode(code int) bool {
	return code/resultClassWidth == resultClassSuccess/resultClassWidth
}

// envelope is the common response wrapper carrying a numeric result code.
type envelope struct {
	ResultCode int             `json:"resultCode"`
	Message    string          `json:"message"`
	Value      json.RawMessage `json:"value"`
}

// InspectionName is one selectable inspection type.
type InspectionName struct {
	ID   int64  `json:"inspectionNameId"`
	Name string `json:"inspectionName"`
}

type inspectionNamesValue struct {
	InspectionNames []InspectionName `json:"inspectionNames"`
}

// ScheduleRequest asks the backend for the inspection schedule matching the
// deep-link parameters. Dates travel as yyyymmdd integers.
type ScheduleRequest struct {
	WorksheetCode           string `json:"worksheetCode"`
	ReceiptConfirmationDate int    `json:"receiptConfirmationDate"`
	InspectionName          string `json:"inspectionName"`
	InspectionDate          int    `json:"inspectionDate"`
	CompanyCode             string `json:"companyCode"`
}

// Schedule is the server-side inspection header with its planned items.
type Schedule struct {
	InspectionID int64          `json:"inspectionId"`
	Status       int            `json:"status"`
	Items        []ScheduleItem `json:"inspectionItems"`
}

// ScheduleItem is one server-known item in the schedule.
type ScheduleItem struct {
	ItemID            int64  `json:"itemId"`
	ItemNameID        *int64 `json:"itemNameId"`
	ItemName          string `json:"itemName"`
	AnalysisResult    string `json:"analysisResult"`
	Model             string `json:"model"`
	SerialNumber      string `json:"serialNumber"`
	Progress          int    `json:"progress"`
	OriginalImagePath string `json:"originalImagePath"`
	CroppedImagePath  string `json:"croppedImagePath"`
	Version           int64  `json:"version"`
}

type beginAnalysisRequest struct {
	InspectionID      int64  `json:"inspectionId"`
	ItemID            int64  `json:"itemId"`
	BucketName        string `json:"bucketName"`
	OriginalImagePath string `json:"originalImagePath"`
	CroppedImagePath  string `json:"croppedImagePath"`
}

// AnalysisTicket acknowledges a begin-image-analysis request.
type AnalysisTicket struct {
	ItemID   int64 `json:"itemId"`
	Progress int   `json:"progress"`
	Version  int64 `json:"version"`
}

// AnalysisResult is one per-item outcome returned by the poll endpoint.
type AnalysisResult struct {
	ItemID         int64  `json:"itemId"`
	AnalysisResult string `json:"analysisResult"`
	Model          string `json:"model"`
	SerialNumber   string `json:"serialNumber"`
	Progress       int    `json:"progress"`
	ImagePath      string `json:"imagePath"`
	Version        int64  `json:"version"`
}

type analysisResultsValue struct {
	InspectionItems []AnalysisResult `json:"inspectionItems"`
}

// ResultItem is one completed item reported in the final submission.
// TakenDt is the capture timestamp in ISO8601.
type ResultItem struct {
	ItemID         int64  `json:"itemId"`
	ItemNameID     *int64 `json:"itemNameId"`
	ItemName       string `json:"itemName"`
	AnalysisResult string `json:"analysisResult"`
	Model          string `json:"model"`
	SerialNumber   string `json:"serialNumber"`
	NGComment      string `json:"ngComment"`
	ImagePath      string `json:"imagePath"`
	TakenDt        string `json:"takenDt"`
}

type finalResultRequest struct {
	InspectionID int64        `json:"inspectionId"`
	EvidenceID   int64        `json:"evidenceId"`
	Status       int          `json:"status"`
	ResultItems  []ResultItem `json:"resultItems"`
	DeleteList   []int64      `json:"deleteList"`
}
