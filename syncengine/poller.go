// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hgsk0523/R05PMJ/analysisapi"
	"github.com/hgsk0523/R05PMJ/inspectstore"
	"github.com/hgsk0523/R05PMJ/retryx"
)

// StartPolling launches the single engine-owned poll timer. Poll failures
// are reported through OnPollError without stopping the timer; the timer
// stops itself once the workflow status turns terminal. Calling
// StartPolling while a poller runs restarts it.
func (e *Engine) StartPolling(ctx context.Context) {
	e.StopPolling()

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	e.pollCancel = cancel
	e.pollDone = done
	interval := e.pollInterval
	e.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				stop, err := e.PollOnce(pollCtx)
				if err != nil && e.onPollError != nil {
					e.onPollError(err)
				}
				if stop {
					return
				}
			}
		}
	}()
}

// StopPolling cancels the poll timer and waits for the loop to exit.
func (e *Engine) StopPolling() {
	e.mu.Lock()
	cancel, done := e.pollCancel, e.pollDone
	e.pollCancel, e.pollDone = nil, nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// PollOnce performs one poll tick. Returns stop=true when the workflow no
// longer needs polling. The reference timestamp advances only on success,
// to the instant captured just before the request, so a failed or slow
// tick never opens a gap in the window.
func (e *Engine) PollOnce(ctx context.Context) (stop bool, err error) {
	insp, err := e.Inspection(ctx)
	if errors.Is(err, ErrNoSession) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if insp.Status.Terminal() {
		return true, nil
	}
	// Nothing can have reached the server before the first capture.
	if insp.Status == inspectstore.StatusWaiting {
		return false, nil
	}

	e.mu.Lock()
	since := e.pollRef
	e.mu.Unlock()

	requestedAt := time.Now()
	results, err := e.api.PollAnalysisResults(ctx, insp.InspectionID, since)
	if err != nil {
		return false, fmt.Errorf("poll analysis results: %w", err)
	}

	for _, result := range results {
		if err := e.mergeResult(ctx, insp.InspectionID, result); err != nil {
			return false, err
		}
	}

	e.mu.Lock()
	e.pollRef = requestedAt
	e.mu.Unlock()
	return false, nil
}

// mergeResult applies one polled result under last-writer-wins-by-version:
// anything at or below the stored version is discarded, a newer version
// overwrites the analysis fields wholesale.
func (e *Engine) mergeResult(ctx context.Context, inspectionID int64, result analysisapi.AnalysisResult) error {
	item, err := e.store.GetItemByServerID(ctx, inspectionID, result.ItemID)
	if errors.Is(err, inspectstore.ErrNotFound) {
		e.logger.Debug("poll result for unknown item", "itemId", result.ItemID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load item %d: %w", result.ItemID, err)
	}
	if result.Version <= item.Version {
		e.logger.Debug("discarding stale poll result",
			"itemId", result.ItemID, "incoming", result.Version, "local", item.Version)
		return nil
	}

	item.AnalysisResult = result.AnalysisResult
	item.Model = result.Model
	item.SerialNumber = result.SerialNumber
	item.Progress = inspectstore.Progress(result.Progress)
	item.Version = result.Version
	// The server may relocate the stored image during analysis; follow it.
	if result.ImagePath != "" {
		item.RemoteOriginalImagePath = result.ImagePath
	}
	item.UpdatedAt = time.Now().UTC()
	err = retryx.Do(ctx, e.retryAttempts, func(ctx context.Context) error {
		return e.store.UpsertItem(ctx, item)
	})
	if err != nil {
		return fmt.Errorf("persist merged result for item %d: %w", result.ItemID, err)
	}
	e.logger.Debug("merged analysis result",
		"itemId", result.ItemID, "version", result.Version, "progress", result.Progress)
	return nil
}
