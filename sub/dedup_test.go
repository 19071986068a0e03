package sub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
)

func TestFilterNew_ThreeWayDedup(t *testing.T) {
	st := newTestStore(t)
	f := NewFilter(st, logging.NewNop())
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	// already materialized
	require.NoError(t, st.InsertFile(ctx, &model.File{
		UID: "f-1", SubscriptionID: "sub-1", URL: "https://site/w/1", Path: "/d/one.mp4",
	}))
	// in flight
	require.NoError(t, st.InsertQueueEntry(ctx, &model.QueueEntry{
		SubscriptionID: "sub-1", URL: "https://site/w/2",
	}))
	// archived
	require.NoError(t, st.AddArchive(ctx, model.ArchiveEntry{
		Extractor: "youtube", ExternalID: "id3", Type: model.TypeVideo, SubscriptionID: "sub-1",
	}))

	items := []model.ItemDescriptor{
		{ExternalID: "id1", Extractor: "youtube", WebpageURL: "https://site/w/1"},
		{ExternalID: "id2", Extractor: "youtube", WebpageURL: "https://site/w/2"},
		{ExternalID: "id3", Extractor: "youtube", WebpageURL: "https://site/w/3"},
		{ExternalID: "id4", Extractor: "youtube", WebpageURL: "https://site/w/4"},
	}

	accepted, err := f.FilterNew(ctx, sub, items)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "id4", accepted[0].ExternalID)
}

func TestFilterNew_ErroredQueueEntryDoesNotBlock(t *testing.T) {
	st := newTestStore(t)
	f := NewFilter(st, logging.NewNop())
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	entry := &model.QueueEntry{SubscriptionID: "sub-1", URL: "https://site/w/1"}
	require.NoError(t, st.InsertQueueEntry(ctx, entry))
	require.NoError(t, st.FinishQueueEntry(ctx, entry.ID, "network timeout"))

	accepted, err := f.FilterNew(ctx, sub, []model.ItemDescriptor{
		{ExternalID: "id1", WebpageURL: "https://site/w/1"},
	})
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}

func TestFilterNew_PathConflictSkipped(t *testing.T) {
	st := newTestStore(t)
	f := NewFilter(st, logging.NewNop())
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	// same destination path already owned by a file fetched under another URL
	require.NoError(t, st.InsertFile(ctx, &model.File{
		UID: "f-1", SubscriptionID: "sub-1", URL: "https://site/old/1", Path: "/d/title.mp4",
	}))

	accepted, err := f.FilterNew(ctx, sub, []model.ItemDescriptor{
		{ExternalID: "id1", WebpageURL: "https://site/new/1", Filename: "/d/title.mp4"},
	})
	require.NoError(t, err)
	assert.Empty(t, accepted)
}

func TestFilterNew_ArchiveScopedToSubscription(t *testing.T) {
	st := newTestStore(t)
	f := NewFilter(st, logging.NewNop())
	ctx := context.Background()

	subA := &model.Subscription{ID: "sub-a", URL: "https://site/a", Name: "A", Type: model.TypeVideo}
	subB := &model.Subscription{ID: "sub-b", URL: "https://site/b", Name: "B", Type: model.TypeVideo}
	insertTestSubscription(t, st, subA)
	insertTestSubscription(t, st, subB)

	require.NoError(t, st.AddArchive(ctx, model.ArchiveEntry{
		Extractor: "youtube", ExternalID: "shared", Type: model.TypeVideo, SubscriptionID: "sub-a",
	}))

	item := model.ItemDescriptor{ExternalID: "shared", Extractor: "youtube", WebpageURL: "https://site/w/1"}

	accepted, err := f.FilterNew(ctx, subA, []model.ItemDescriptor{item})
	require.NoError(t, err)
	assert.Empty(t, accepted)

	accepted, err = f.FilterNew(ctx, subB, []model.ItemDescriptor{item})
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}

func TestFilterNew_StripsFormatFields(t *testing.T) {
	st := newTestStore(t)
	f := NewFilter(st, logging.NewNop())
	ctx := context.Background()

	sub := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	insertTestSubscription(t, st, sub)

	item := model.ItemDescriptor{
		ExternalID: "id1", WebpageURL: "https://site/w/1",
		Formats: []map[string]any{
			{"format_id": "22", "filesize": 1234, "vcodec": "avc1"},
		},
	}

	accepted, err := f.FilterNew(ctx, sub, []model.ItemDescriptor{item})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.NotContains(t, accepted[0].Formats[0], "format_id")
	assert.NotContains(t, accepted[0].Formats[0], "filesize")
	assert.Contains(t, accepted[0].Formats[0], "vcodec")
}
