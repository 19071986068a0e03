package probe

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
)

func TestFeedURL(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{
			input: "https://www.youtube.com/channel/UCabc123",
			want:  "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc123",
			ok:    true,
		},
		{
			input: "https://youtube.com/channel/UCabc123/videos",
			want:  "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc123",
			ok:    true,
		},
		{
			input: "https://www.youtube.com/playlist?list=PLxyz",
			want:  "https://www.youtube.com/feeds/videos.xml?playlist_id=PLxyz",
			ok:    true,
		},
		{input: "https://www.youtube.com/@somehandle", ok: false},
		{input: "https://vimeo.com/channels/staff", ok: false},
		{input: "not a url at all ://", ok: false},
	}
	for _, tc := range cases {
		got, ok := FeedURL(tc.input)
		assert.Equal(t, tc.ok, ok, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}

func TestUnseenInFeed(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	sub := &model.Subscription{
		ID: "sub-1", URL: "https://www.youtube.com/channel/UCtest",
		Name: "Test Channel", Type: model.TypeVideo,
	}
	require.NoError(t, st.InsertSubscription(ctx, sub))

	data, err := os.ReadFile("testdata/channel.xml")
	require.NoError(t, err)

	p := New(logging.NewNop())
	feed, err := p.ParseString(string(data))
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)

	// nothing known yet: everything is unseen
	unseen, err := p.unseenInFeed(ctx, st, sub, feed)
	require.NoError(t, err)
	assert.True(t, unseen)

	// older video materialized, newest still unseen
	require.NoError(t, st.InsertFile(ctx, &model.File{
		UID: "f-1", SubscriptionID: "sub-1",
		URL: "https://www.youtube.com/watch?v=bbb222", Path: "/d/older.mp4",
	}))
	unseen, err = p.unseenInFeed(ctx, st, sub, feed)
	require.NoError(t, err)
	assert.True(t, unseen)

	// newest in flight: feed fully covered
	require.NoError(t, st.InsertQueueEntry(ctx, &model.QueueEntry{
		SubscriptionID: "sub-1", URL: "https://www.youtube.com/watch?v=aaa111",
	}))
	unseen, err = p.unseenInFeed(ctx, st, sub, feed)
	require.NoError(t, err)
	assert.False(t, unseen)
}

func TestUnseen_UncheckableURL(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := New(logging.NewNop())
	sub := &model.Subscription{ID: "sub-1", URL: "https://vimeo.com/somechannel"}

	checked, _, err := p.Unseen(context.Background(), st, sub)
	require.NoError(t, err)
	assert.False(t, checked)
}
