package sub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrenyang/VideoDownloader/model"
)

func TestSync_SubmitsNewItems(t *testing.T) {
	cfg := newTestConfig(t)
	st := newTestStore(t)
	client := &fakeClient{pollItems: []model.ItemDescriptor{
		{ExternalID: "id1", WebpageURL: "https://site/w/1", Title: "One"},
		{ExternalID: "id2", WebpageURL: "https://site/w/2", Title: "Two"},
	}}
	syncer, pipeline := newTestSyncer(t, cfg, st, client)
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	result, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyRunning)
	require.Len(t, result.Accepted, 2)
	require.Len(t, pipeline.submissions, 2)
	assert.Equal(t, "https://site/w/1", pipeline.submissions[0].url)

	// content directory created
	_, statErr := os.Stat(filepath.Join(cfg.SubscriptionsDir, "channels", "Chan"))
	assert.NoError(t, statErr)
}

func TestSync_SecondRunAcceptsNothing(t *testing.T) {
	cfg := newTestConfig(t)
	st := newTestStore(t)
	client := &fakeClient{pollItems: []model.ItemDescriptor{
		{ExternalID: "id1", WebpageURL: "https://site/w/1"},
	}}
	syncer, pipeline := newTestSyncer(t, cfg, st, client)
	pipeline.st = st
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	first, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, first.Accepted, 1)

	second, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err)
	assert.Empty(t, second.Accepted)
	assert.Equal(t, 2, client.pollCalls)
}

func TestSync_SkipsWhenAlreadyDownloading(t *testing.T) {
	cfg := newTestConfig(t)
	st := newTestStore(t)
	client := &fakeClient{}
	syncer, _ := newTestSyncer(t, cfg, st, client)
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)
	require.NoError(t, st.SetSubscriptionDownloading(ctx, "sub-1", true))

	result, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, result.AlreadyRunning)
	assert.Equal(t, 0, client.pollCalls)
}

func TestSync_RunningQueueEntryCorroboratesFlag(t *testing.T) {
	cfg := newTestConfig(t)
	st := newTestStore(t)
	client := &fakeClient{}
	syncer, _ := newTestSyncer(t, cfg, st, client)
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	// flag is off but a job is mid-flight
	entry := &model.QueueEntry{SubscriptionID: "sub-1", URL: "https://site/w/1"}
	require.NoError(t, st.InsertQueueEntry(ctx, entry))
	require.NoError(t, st.SetQueueEntryRunning(ctx, entry.ID, true))

	result, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, result.AlreadyRunning)
	assert.Equal(t, 0, client.pollCalls)
}

func TestSync_PollFailureClearsFlagAndSnapshot(t *testing.T) {
	cfg := newTestConfig(t)
	st := newTestStore(t)
	client := &fakeClient{pollErr: assert.AnError}
	syncer, _ := newTestSyncer(t, cfg, st, client)
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)
	require.NoError(t, st.AddArchive(ctx, model.ArchiveEntry{
		Extractor: "youtube", ExternalID: "old", Type: model.TypeVideo, SubscriptionID: "sub-1",
	}))

	result, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err, "a failed poll degrades to no new items")
	assert.Empty(t, result.Accepted)

	got, err := st.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.False(t, got.Downloading)

	_, statErr := os.Stat(syncer.Builder().SnapshotPath(sub))
	assert.True(t, os.IsNotExist(statErr), "dedup snapshot must not outlive the sync")
}

func TestSync_FreshUploadsReconciledWhenEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RedownloadFreshUploads = true
	st := newTestStore(t)
	client := &fakeClient{}
	syncer, _ := newTestSyncer(t, cfg, st, client)
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)
	require.NoError(t, st.InsertFile(ctx, &model.File{
		UID: "f-1", SubscriptionID: "sub-1", URL: "u1", Path: "/d/a.mp4",
		UploadDate: model.Today(),
	}))

	_, err := syncer.Sync(ctx, "sub-1")
	require.NoError(t, err)

	got, err := st.GetFile(ctx, "f-1")
	require.NoError(t, err)
	assert.True(t, got.FreshUpload)
}

func TestSyncAll_SkipsPaused(t *testing.T) {
	cfg := newTestConfig(t)
	st := newTestStore(t)
	client := &fakeClient{pollItems: []model.ItemDescriptor{
		{ExternalID: "id1", WebpageURL: "https://site/w/1"},
	}}
	syncer, _ := newTestSyncer(t, cfg, st, client)
	ctx := context.Background()

	insertTestSubscription(t, st, &model.Subscription{
		ID: "sub-1", URL: "https://site/a", Name: "Active", Type: model.TypeVideo,
	})
	insertTestSubscription(t, st, &model.Subscription{
		ID: "sub-2", URL: "https://site/b", Name: "Paused", Type: model.TypeVideo, Paused: true,
	})

	total, err := syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, client.pollCalls)
}
