// Package syncengine reconciles the on-device inspection dataset against
// the remote analysis service: session ingestion, item lifecycle, the
// capture-to-analysis pipeline, result polling with versioned merge, and
// final submission.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hgsk0523/R05PMJ/analysisapi"
	"github.com/hgsk0523/R05PMJ/config"
	"github.com/hgsk0523/R05PMJ/imagefs"
	"github.com/hgsk0523/R05PMJ/inspectstore"
	"github.com/hgsk0523/R05PMJ/retryx"
)

const (
	// MaxItems bounds the number of items in one inspection.
	MaxItems = 10

	// referenceMargin backs the first poll window off from "now" to
	// tolerate client/server clock skew.
	referenceMargin = 2 * time.Minute

	defaultPollInterval = 30 * time.Second
)

// AnalysisAPI is the backend surface the engine depends on.
type AnalysisAPI interface {
	FetchInspectionNames(ctx context.Context) ([]analysisapi.InspectionName, error)
	FetchScheduleAndItems(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error)
	RequestAnalysis(ctx context.Context, inspectionID, itemID int64, bucketName, originalPath, croppedPath string) (*analysisapi.AnalysisTicket, error)
	PollAnalysisResults(ctx context.Context, inspectionID int64, lastUpdatedAt time.Time) ([]analysisapi.AnalysisResult, error)
	SubmitFinalResult(ctx context.Context, inspectionID, evidenceID int64, status int, items []analysisapi.ResultItem, deletedItemIDs []int64) error
	UploadImage(ctx context.Context, bucket, path string, data []byte) error
	DownloadImage(ctx context.Context, bucket, path string) ([]byte, error)
}

// Options tunes an Engine. Zero values take the documented defaults.
type Options struct {
	RetryAttempts int           // store retry budget, default retryx.DefaultAttempts
	PollInterval  time.Duration // default 30s, overridden by settings document
	// ConfigBucket holds the remote settings document and sample photos.
	ConfigBucket string
	// SettingsCachePath is where the fetched settings document is cached.
	SettingsCachePath string
	// OnPollError receives polling failures; the timer keeps running.
	OnPollError func(error)
	// OnSessionEnd fires after a successful final submission.
	OnSessionEnd func()
}

// Engine owns the session state and is the single logical writer of the
// store. All exported methods are safe for concurrent use.
type Engine struct {
	store  *inspectstore.Store
	api    AnalysisAPI
	images *imagefs.Manager
	logger *slog.Logger

	retryAttempts     int
	configBucket      string
	settingsCachePath string
	onPollError       func(error)
	onSessionEnd      func()

	mu               sync.Mutex
	settings         *config.Settings
	pollInterval     time.Duration
	pollRef          time.Time
	analysisInFlight map[string]struct{}
	pollCancel       context.CancelFunc
	pollDone         chan struct{}
}

// New wires an Engine from its collaborators. settings may be nil until
// RefreshSettings succeeds; session ingestion then falls back to the
// network for name resolution and items resolve to analysis type "none".
func New(store *inspectstore.Store, api AnalysisAPI, images *imagefs.Manager,
	settings *config.Settings, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	retryAttempts := opts.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = retryx.DefaultAttempts
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if settings != nil && settings.PollingPeriod > 0 {
		pollInterval = time.Duration(settings.PollingPeriod) * time.Second
	}
	return &Engine{
		store:             store,
		api:               api,
		images:            images,
		settings:          settings,
		logger:            logger,
		retryAttempts:     retryAttempts,
		pollInterval:      pollInterval,
		configBucket:      opts.ConfigBucket,
		settingsCachePath: opts.SettingsCachePath,
		onPollError:       opts.OnPollError,
		onSessionEnd:      opts.OnSessionEnd,
		analysisInFlight:  make(map[string]struct{}),
	}
}

// currentSettings returns the settings document under the engine lock;
// RefreshSettings may swap it while the poll goroutine runs.
func (e *Engine) currentSettings() *config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Engine) currentPollInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pollInterval
}

// bucketName is the image bucket from the settings document.
func (e *Engine) bucketName() string {
	settings := e.currentSettings()
	if settings == nil {
		return ""
	}
	return settings.BucketName
}

// analysisTypeFor resolves the analysis type for a scheduled item name id;
// ad-hoc items (nil id) are "none".
func (e *Engine) analysisTypeFor(inspectionNameID int64, itemNameID *int64) inspectstore.AnalysisType {
	settings := e.currentSettings()
	if itemNameID == nil || settings == nil {
		return inspectstore.AnalysisNone
	}
	return inspectstore.AnalysisType(settings.AnalysisTypeFor(inspectionNameID, *itemNameID))
}
