package syncengine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hgsk0523/R05PMJ/analysisapi"
	"github.com/hgsk0523/R05PMJ/config"
	"github.com/hgsk0523/R05PMJ/imagefs"
	"github.com/hgsk0523/R05PMJ/inspectstore"
)

type fakeAPI struct {
	fetchNames      func(ctx context.Context) ([]analysisapi.InspectionName, error)
	fetchSchedule   func(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error)
	requestAnalysis func(ctx context.Context, inspectionID, itemID int64, bucket, orig, cropped string) (*analysisapi.AnalysisTicket, error)
	poll            func(ctx context.Context, inspectionID int64, since time.Time) ([]analysisapi.AnalysisResult, error)
	submit          func(ctx context.Context, inspectionID, evidenceID int64, status int, items []analysisapi.ResultItem, deleted []int64) error
	upload          func(ctx context.Context, bucket, path string, data []byte) error
	download        func(ctx context.Context, bucket, path string) ([]byte, error)
}

func (f *fakeAPI) FetchInspectionNames(ctx context.Context) ([]analysisapi.InspectionName, error) {
	if f.fetchNames == nil {
		return nil, errors.New("unexpected FetchInspectionNames")
	}
	return f.fetchNames(ctx)
}

func (f *fakeAPI) FetchScheduleAndItems(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error) {
	if f.fetchSchedule == nil {
		return nil, errors.New("unexpected FetchScheduleAndItems")
	}
	return f.fetchSchedule(ctx, req)
}

func (f *fakeAPI) RequestAnalysis(ctx context.Context, inspectionID, itemID int64, bucket, orig, cropped string) (*analysisapi.AnalysisTicket, error) {
	if f.requestAnalysis == nil {
		return nil, errors.New("unexpected RequestAnalysis")
	}
	return f.requestAnalysis(ctx, inspectionID, itemID, bucket, orig, cropped)
}

func (f *fakeAPI) PollAnalysisResults(ctx context.Context, inspectionID int64, since time.Time) ([]analysisapi.AnalysisResult, error) {
	if f.poll == nil {
		return nil, errors.New("unexpected PollAnalysisResults")
	}
	return f.poll(ctx, inspectionID, since)
}

func (f *fakeAPI) SubmitFinalResult(ctx context.Context, inspectionID, evidenceID int64, status int, items []analysisapi.ResultItem, deleted []int64) error {
	if f.submit == nil {
		return errors.New("unexpected SubmitFinalResult")
	}
	return f.submit(ctx, inspectionID, evidenceID, status, items, deleted)
}

func (f *fakeAPI) UploadImage(ctx context.Context, bucket, path string, data []byte) error {
	if f.upload == nil {
		return errors.New("unexpected UploadImage")
	}
	return f.upload(ctx, bucket, path, data)
}

func (f *fakeAPI) DownloadImage(ctx context.Context, bucket, path string) ([]byte, error) {
	if f.download == nil {
		return nil, errors.New("unexpected DownloadImage")
	}
	return f.download(ctx, bucket, path)
}

func testSettings() *config.Settings {
	return &config.Settings{
		Version:             1,
		BucketName:          "inspection-images",
		PollingPeriod:       1,
		DataRetentionPeriod: 90,
		Settings: []config.InspectionSetting{
			{
				InspectionNameID: 1,
				InspectionName:   "出荷前検査",
				Items: []config.ItemSetting{
					{ItemNameID: 10, ItemName: "銘板", AnalysisType: "ocr"},
					{ItemNameID: 11, ItemName: "外観", AnalysisType: "ai"},
					{ItemNameID: 12, ItemName: "付属品", AnalysisType: "other"},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T, api *fakeAPI) *Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := inspectstore.Open(context.Background(),
		filepath.Join(dir, "inspect.db"), filepath.Join(dir, "store.key"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	images := imagefs.NewManager(
		filepath.Join(dir, "captures"), filepath.Join(dir, "examples"), nil)
	return New(store, api, images, testSettings(), Options{
		ConfigBucket:      "config-bucket",
		SettingsCachePath: filepath.Join(dir, "settings.json"),
	}, nil)
}

func int64p(v int64) *int64 { return &v }

func scheduleFixture() *analysisapi.Schedule {
	return &analysisapi.Schedule{
		InspectionID: 100,
		Status:       0,
		Items: []analysisapi.ScheduleItem{
			{ItemID: 1, ItemNameID: int64p(10), ItemName: "銘板", Progress: 0, Version: 1},
			{ItemID: 2, ItemNameID: int64p(11), ItemName: "外観", Progress: 0, Version: 1},
		},
	}
}

func startSession(t *testing.T, e *Engine, api *fakeAPI) *inspectstore.Inspection {
	t.Helper()
	api.fetchSchedule = func(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error) {
		return scheduleFixture(), nil
	}
	insp, err := e.StartSession(context.Background(), validParams())
	require.NoError(t, err)
	return insp
}

func TestStartSessionIngestsSchedule(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()

	var gotReq analysisapi.ScheduleRequest
	api.fetchSchedule = func(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error) {
		gotReq = req
		return scheduleFixture(), nil
	}

	insp, err := e.StartSession(ctx, validParams())
	require.NoError(t, err)
	require.Equal(t, int64(100), insp.InspectionID)
	require.Equal(t, inspectstore.StatusWaiting, insp.Status)
	require.Equal(t, "1234567890", gotReq.WorksheetCode)
	require.Equal(t, 20260810, gotReq.ReceiptConfirmationDate)
	require.Equal(t, 20260829, gotReq.InspectionDate)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, inspectstore.AnalysisOCR, items[0].AnalysisType)
	require.Equal(t, inspectstore.AnalysisAI, items[1].AnalysisType)
	for _, item := range items {
		require.Equal(t, inspectstore.ProgressWaitingForCapture, item.Progress)
		require.True(t, item.ItemID.Valid)
		require.NotEmpty(t, item.ItemUUID)
	}
}

func TestItemsOrderedByServerID(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()

	// The schedule lists its items out of id order.
	api.fetchSchedule = func(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error) {
		return &analysisapi.Schedule{
			InspectionID: 100,
			Items: []analysisapi.ScheduleItem{
				{ItemID: 2, ItemNameID: int64p(11), ItemName: "外観", Version: 1},
				{ItemID: 1, ItemNameID: int64p(10), ItemName: "銘板", Version: 1},
			},
		}, nil
	}
	_, err := e.StartSession(ctx, validParams())
	require.NoError(t, err)

	adHoc, err := e.AddItem(ctx, "追加写真")
	require.NoError(t, err)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, int64(1), items[0].ItemID.Int64)
	require.Equal(t, int64(2), items[1].ItemID.Int64)
	// Local-only items trail the server-known ones.
	require.False(t, items[2].ItemID.Valid)
	require.Equal(t, adHoc.ItemUUID, items[2].ItemUUID)
}

func TestStartSessionReplacesPreviousSession(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	api.fetchSchedule = func(ctx context.Context, req analysisapi.ScheduleRequest) (*analysisapi.Schedule, error) {
		return &analysisapi.Schedule{InspectionID: 200, Status: 0}, nil
	}
	insp, err := e.StartSession(ctx, validParams())
	require.NoError(t, err)
	require.Equal(t, int64(200), insp.InspectionID)

	stored, err := e.Inspection(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(200), stored.InspectionID)
	items, err := e.Items(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestStartSessionRejectsBadParamsBeforeNetwork(t *testing.T) {
	api := &fakeAPI{} // any network call would fail the test
	e := newTestEngine(t, api)

	p := validParams()
	p.WorksheetNo = "123"
	_, err := e.StartSession(context.Background(), p)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAddItemDuplicateAndLimit(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	_, err := e.AddItem(ctx, "追加写真")
	require.NoError(t, err)

	// Duplicate of a schedule item name is rejected without mutating the
	// store.
	_, err = e.AddItem(ctx, "銘板")
	require.ErrorIs(t, err, ErrValidation)
	items, err := e.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)

	for i := len(items); i < MaxItems; i++ {
		_, err = e.AddItem(ctx, fmt.Sprintf("追加%d", i))
		require.NoError(t, err)
	}
	_, err = e.AddItem(ctx, "あふれ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestDeleteItemRules(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	insp := startSession(t, e, api)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	scheduled := items[0] // server-known

	adHoc, err := e.AddItem(ctx, "追加写真")
	require.NoError(t, err)

	require.NoError(t, e.DeleteItem(ctx, scheduled.ItemUUID))
	require.NoError(t, e.DeleteItem(ctx, adHoc.ItemUUID))

	remaining, err := e.Items(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	tombstones, err := e.store.QueryDeletedItems(ctx, insp.InspectionID)
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	require.Equal(t, scheduled.ItemUUID, tombstones[0].ItemUUID)
}

func TestCaptureAndUploadPipeline(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	insp := startSession(t, e, api)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	aiUUID := items[1].ItemUUID

	require.NoError(t, e.CaptureAndStage(ctx, aiUUID, []byte{0xFF, 1}, []byte{0xFF, 2}))

	item, err := e.store.GetItemByUUID(ctx, aiUUID)
	require.NoError(t, err)
	require.Equal(t, inspectstore.ProgressSavedLocally, item.Progress)
	require.NotEmpty(t, item.RemoteOriginalImagePath)
	require.Contains(t, item.RemoteCroppedImagePath, "/cropped/")

	// The first saved photo moves the inspection out of Waiting.
	stored, err := e.Inspection(ctx)
	require.NoError(t, err)
	require.Equal(t, inspectstore.StatusUnderInspection, stored.Status)
	_ = insp

	var uploaded []string
	api.upload = func(ctx context.Context, bucket, path string, data []byte) error {
		require.Equal(t, "inspection-images", bucket)
		uploaded = append(uploaded, path)
		return nil
	}
	require.NoError(t, e.UploadCapturedImages(ctx, aiUUID))

	// Original strictly before cropped.
	require.Len(t, uploaded, 2)
	require.Equal(t, item.RemoteOriginalImagePath, uploaded[0])
	require.Equal(t, item.RemoteCroppedImagePath, uploaded[1])

	item, err = e.store.GetItemByUUID(ctx, aiUUID)
	require.NoError(t, err)
	require.Equal(t, inspectstore.ProgressSavedRemotely, item.Progress)
}

func TestUploadOtherItemSkipsAnalysis(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	adHoc, err := e.AddItem(ctx, "追加写真")
	require.NoError(t, err)
	require.NoError(t, e.CaptureAndStage(ctx, adHoc.ItemUUID, []byte{1}, []byte{2}))

	api.upload = func(ctx context.Context, bucket, path string, data []byte) error { return nil }
	require.NoError(t, e.UploadCapturedImages(ctx, adHoc.ItemUUID))

	item, err := e.store.GetItemByUUID(ctx, adHoc.ItemUUID)
	require.NoError(t, err)
	require.Equal(t, inspectstore.ProgressAnalysisCompleted, item.Progress)
}

func TestUploadFailureLeavesProgressForResend(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	uuid := items[1].ItemUUID
	require.NoError(t, e.CaptureAndStage(ctx, uuid, []byte{1}, []byte{2}))

	// Cropped upload fails after the original succeeded.
	calls := 0
	api.upload = func(ctx context.Context, bucket, path string, data []byte) error {
		calls++
		if calls == 2 {
			return analysisapi.ErrConnection
		}
		return nil
	}
	err = e.UploadCapturedImages(ctx, uuid)
	require.ErrorIs(t, err, analysisapi.ErrConnection)

	item, err := e.store.GetItemByUUID(ctx, uuid)
	require.NoError(t, err)
	require.Equal(t, inspectstore.ProgressSavedLocally, item.Progress)

	// Resend succeeds and completes the transition.
	api.upload = func(ctx context.Context, bucket, path string, data []byte) error { return nil }
	require.NoError(t, e.UploadCapturedImages(ctx, uuid))
	item, err = e.store.GetItemByUUID(ctx, uuid)
	require.NoError(t, err)
	require.Equal(t, inspectstore.ProgressSavedRemotely, item.Progress)
}

func TestUploadRequiresStagedImages(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	err = e.UploadCapturedImages(ctx, items[0].ItemUUID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRequestItemAnalysis(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	uuid := items[1].ItemUUID

	// Guarded until both images are remote.
	err = e.RequestItemAnalysis(ctx, uuid)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, e.CaptureAndStage(ctx, uuid, []byte{1}, []byte{2}))
	api.upload = func(ctx context.Context, bucket, path string, data []byte) error { return nil }
	require.NoError(t, e.UploadCapturedImages(ctx, uuid))

	api.requestAnalysis = func(ctx context.Context, inspectionID, itemID int64, bucket, orig, cropped string) (*analysisapi.AnalysisTicket, error) {
		require.Equal(t, int64(100), inspectionID)
		require.Equal(t, int64(2), itemID)
		require.Equal(t, "inspection-images", bucket)
		return &analysisapi.AnalysisTicket{ItemID: itemID, Progress: 3, Version: 2}, nil
	}
	require.NoError(t, e.RequestItemAnalysis(ctx, uuid))

	item, err := e.store.GetItemByUUID(ctx, uuid)
	require.NoError(t, err)
	require.Equal(t, inspectstore.ProgressAnalysisRequested, item.Progress)
	require.Equal(t, int64(2), item.Version)
}

func TestEditResultAndNGComment(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()
	startSession(t, e, api)

	items, err := e.Items(ctx)
	require.NoError(t, err)
	uuid := items[0].ItemUUID

	require.NoError(t, e.EditResult(ctx, uuid, "AB-200", "S9999"))
	require.NoError(t, e.SaveNGComment(ctx, uuid, "銘板に汚れ"))

	item, err := e.store.GetItemByUUID(ctx, uuid)
	require.NoError(t, err)
	require.Equal(t, "AB-200", item.EditedModel)
	require.Equal(t, "S9999", item.EditedSerialNumber)
	require.Equal(t, "銘板に汚れ", item.NGComment.String)
	// Raw OCR output stays untouched.
	require.Empty(t, item.Model)

	require.ErrorIs(t, e.EditResult(ctx, uuid, "-bad", "S1"), ErrValidation)
	require.ErrorIs(t, e.SaveNGComment(ctx, uuid, ""), ErrValidation)
}

func TestRefreshSettingsAndExamplePhotos(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api)
	ctx := context.Background()

	doc := `{
		"version": 2,
		"bucketName": "inspection-images",
		"pollingPeriod": 60,
		"dataRetentionPeriod": 30,
		"settings": [{
			"inspectionNameId": 1,
			"inspectionName": "出荷前検査",
			"items": [{
				"itemNameId": 10, "itemName": "銘板", "analysisType": "ocr",
				"samplePhotos": [{"fileName": "front.jpg", "explanation": "正面", "path": "samples/1/10/front.jpg"}]
			}]
		}]
	}`
	api.download = func(ctx context.Context, bucket, path string) ([]byte, error) {
		require.Equal(t, "config-bucket", bucket)
		if path == "settings.json" {
			return []byte(doc), nil
		}
		return []byte{0xFF, 0xD8}, nil
	}

	require.NoError(t, e.RefreshSettings(ctx))
	require.Equal(t, 60*time.Second, e.currentPollInterval())

	photos, err := e.SamplePhotos(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	require.Equal(t, "front.jpg", photos[0].FileName)
	require.Equal(t, "正面", photos[0].Explanation)

	// Cache written for the next launch.
	cached, err := config.LoadCache(e.settingsCachePath)
	require.NoError(t, err)
	require.Equal(t, 2, cached.Version)
}
