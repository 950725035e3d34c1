// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hgsk0523/R05PMJ/analysisapi"
	"github.com/hgsk0523/R05PMJ/inspectstore"
	"github.com/hgsk0523/R05PMJ/retryx"
)

// SessionParams are the deep-link ingestion parameters handed over by the
// external caller that launches an inspection session.
type SessionParams struct {
	CompanyCode             string
	BaseCode                string
	RepCode                 string
	WorksheetNo             string
	ReceiptConfirmationDate string
	Model                   string
	ClientName              string
	InspectionName          string
	ScheduledDate           string
}

// Validate checks every parameter before any network call is made.
func (p *SessionParams) Validate() error {
	if !digitsOnly(p.CompanyCode) || len(p.CompanyCode) > maxCompanyCodeLen {
		return validationErr("companyCode", "must be up to 8 digits")
	}
	if !alphanumericOnly(p.BaseCode) || len(p.BaseCode) > maxBaseCodeLen {
		return validationErr("baseCode", "must be up to 8 alphanumeric characters")
	}
	if !alphanumericOnly(p.RepCode) || len(p.RepCode) > maxWorkerCodeLen {
		return validationErr("repCode", "must be up to 8 alphanumeric characters")
	}
	if !digitsOnly(p.WorksheetNo) || len(p.WorksheetNo) != worksheetNoLen {
		return validationErr("worksheetNo", "must be exactly 10 digits")
	}
	if !digitsOnly(p.ReceiptConfirmationDate) || len(p.ReceiptConfirmationDate) != dateLen {
		return validationErr("receiptConfirmationDate", "must be an 8-digit date")
	}
	if !digitsOnly(p.ScheduledDate) || len(p.ScheduledDate) != dateLen {
		return validationErr("scheduledDate", "must be an 8-digit date")
	}
	if model := trimSpaces(p.Model); model == "" || len([]rune(model)) > maxModelLen {
		return validationErr("model", "must be 1 to 20 characters")
	} else if model[0] == '-' {
		return validationErr("model", "must not start with a hyphen")
	}
	if name := trimSpaces(p.ClientName); !fullWidthOnly(name) || len([]rune(name)) > maxClientNameLen {
		return validationErr("clientName", "must be up to 50 full-width characters")
	}
	if name := trimSpaces(p.InspectionName); !fullWidthOnly(name) || len([]rune(name)) > maxInspectionNameLen {
		return validationErr("inspectionName", "must be up to 15 full-width characters")
	}
	return nil
}

// StartSession validates the deep-link parameters, fetches the matching
// schedule with its planned items, and atomically replaces the on-device
// dataset. Any previously active session is discarded.
func (e *Engine) StartSession(ctx context.Context, params SessionParams) (*inspectstore.Inspection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	inspectionNameID, err := e.resolveInspectionNameID(ctx, trimSpaces(params.InspectionName))
	if err != nil {
		return nil, err
	}

	receiptDate, _ := strconv.Atoi(params.ReceiptConfirmationDate)
	scheduledDate, _ := strconv.Atoi(params.ScheduledDate)
	sched, err := e.api.FetchScheduleAndItems(ctx, analysisapi.ScheduleRequest{
		WorksheetCode:           params.WorksheetNo,
		ReceiptConfirmationDate: receiptDate,
		InspectionName:          trimSpaces(params.InspectionName),
		InspectionDate:          scheduledDate,
		CompanyCode:             params.CompanyCode,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}

	now := time.Now().UTC()
	insp := &inspectstore.Inspection{
		InspectionID:            sched.InspectionID,
		InspectionNameID:        inspectionNameID,
		InspectionName:          trimSpaces(params.InspectionName),
		WorksheetCode:           params.WorksheetNo,
		ReceiptConfirmationDate: params.ReceiptConfirmationDate,
		ScheduledDate:           params.ScheduledDate,
		Model:                   trimSpaces(params.Model),
		ClientName:              trimSpaces(params.ClientName),
		Status:                  inspectstore.Status(sched.Status),
		CompanyCode:             params.CompanyCode,
		BaseCode:                params.BaseCode,
		WorkerCode:              params.RepCode,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	items := make([]inspectstore.InspectionItem, 0, len(sched.Items))
	for i, si := range sched.Items {
		item := inspectstore.InspectionItem{
			ItemUUID:       uuid.NewString(),
			ItemID:         sql.NullInt64{Int64: si.ItemID, Valid: true},
			InspectionID:   sched.InspectionID,
			ItemName:       si.ItemName,
			AnalysisResult: si.AnalysisResult,
			Model:          si.Model,
			SerialNumber:   si.SerialNumber,
			Progress:       inspectstore.Progress(si.Progress),
			AnalysisType:   inspectstore.AnalysisNone,
			Version:        si.Version,
			// Creation order preserves the schedule's item order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		}
		if si.ItemNameID != nil {
			item.ItemNameID = sql.NullInt64{Int64: *si.ItemNameID, Valid: true}
			item.AnalysisType = e.analysisTypeFor(inspectionNameID, si.ItemNameID)
		}
		item.RemoteOriginalImagePath = si.OriginalImagePath
		item.RemoteCroppedImagePath = si.CroppedImagePath
		items = append(items, item)
	}

	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.ReplaceInspectionDataset(ctx, insp, items)
	})
	if err != nil {
		return nil, fmt.Errorf("persist session dataset: %w", err)
	}

	e.mu.Lock()
	// First poll window opens slightly in the past to tolerate clock skew
	// between client and server.
	e.pollRef = time.Now().Add(-referenceMargin)
	e.analysisInFlight = make(map[string]struct{})
	e.mu.Unlock()

	e.logger.Info("session started",
		"inspectionId", insp.InspectionID, "items", len(items), "status", int(insp.Status))
	return insp, nil
}

// resolveInspectionNameID maps the deep-link inspection name to its id,
// preferring the cached settings catalog over a network round trip.
func (e *Engine) resolveInspectionNameID(ctx context.Context, name string) (int64, error) {
	if settings := e.currentSettings(); settings != nil {
		for _, s := range settings.Settings {
			if s.InspectionName == name {
				return s.InspectionNameID, nil
			}
		}
	}
	names, err := e.api.FetchInspectionNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch inspection names: %w", err)
	}
	for _, n := range names {
		if n.Name == name {
			return n.ID, nil
		}
	}
	return 0, validationErr("inspectionName", "unknown inspection name")
}

// EndSession stops polling and discards the on-device dataset. Safe to call
// when no session is active.
func (e *Engine) EndSession(ctx context.Context) error {
	e.StopPolling()
	err := retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.ClearInspectionDataset(ctx)
	})
	if err != nil {
		return fmt.Errorf("clear session dataset: %w", err)
	}
	return nil
}

// Inspection returns the active session header.
func (e *Engine) Inspection(ctx context.Context) (*inspectstore.Inspection, error) {
	insp, err := e.store.GetInspection(ctx)
	if errors.Is(err, inspectstore.ErrNotFound) {
		return nil, ErrNoSession
	}
	return insp, err
}
