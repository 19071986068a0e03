package download

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrenyang/VideoDownloader/config"
	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
	"github.com/myrenyang/VideoDownloader/sub"
)

type fakeClient struct {
	mu     sync.Mutex
	args   [][]string
	result *model.ItemDescriptor
	err    error
}

func (f *fakeClient) Poll(ctx context.Context, url string, args []string) ([]model.ItemDescriptor, error) {
	return nil, nil
}

func (f *fakeClient) Info(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error) {
	return nil, nil
}

func (f *fakeClient) Download(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, append([]string(nil), args...))
	return f.result, f.err
}

func newTestQueue(t *testing.T, client *fakeClient) (*Queue, *store.Store, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.SubscriptionsDir = t.TempDir()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewQueue(&cfg, st, client, logging.NewNop()), st, &cfg
}

func testSubscription(t *testing.T, st *store.Store) *model.Subscription {
	t.Helper()
	s := &model.Subscription{ID: "sub-1", URL: "https://site/c", Name: "Chan", Type: model.TypeVideo}
	require.NoError(t, st.InsertSubscription(context.Background(), s))
	return s
}

func TestQueue_SuccessfulJobMaterializesFile(t *testing.T) {
	client := &fakeClient{result: &model.ItemDescriptor{
		Title: "Final Title", Filename: "/media/final.mp4", Height: 1080, UploadDate: "20240610",
	}}
	q, st, _ := newTestQueue(t, client)
	ctx := context.Background()
	testSubscription(t, st)

	opts := sub.DownloadOptions{FolderPath: t.TempDir(), Output: "%(title)s"}
	item := model.ItemDescriptor{Title: "Polled Title", Height: 720, UploadDate: "20240609"}

	require.NoError(t, q.Submit(ctx, "https://site/w/1", model.TypeVideo, opts, "", "sub-1", "Chan", item))
	q.Wait()

	files, err := st.FilesBySubscription(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Final Title", files[0].Title)
	assert.Equal(t, "/media/final.mp4", files[0].Path)
	assert.Equal(t, float64(1080), files[0].Height)
	assert.Equal(t, "20240610", files[0].UploadDate)

	// entry finished cleanly: nothing active, nothing running
	_, err = st.ActiveQueueEntry(ctx, "sub-1", "https://site/w/1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	running, err := st.RunningQueueCount(ctx, "sub-1")
	require.NoError(t, err)
	assert.Zero(t, running)
}

func TestQueue_FailedJobRecordsError(t *testing.T) {
	client := &fakeClient{err: assert.AnError}
	q, st, _ := newTestQueue(t, client)
	ctx := context.Background()
	testSubscription(t, st)

	opts := sub.DownloadOptions{FolderPath: t.TempDir(), Output: "%(title)s"}
	require.NoError(t, q.Submit(ctx, "https://site/w/1", model.TypeVideo, opts, "", "sub-1", "Chan", model.ItemDescriptor{}))
	q.Wait()

	files, err := st.FilesBySubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Empty(t, files)

	// errored entries stop blocking dedup immediately
	_, err = st.ActiveQueueEntry(ctx, "sub-1", "https://site/w/1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueue_ArgsRespectOptions(t *testing.T) {
	client := &fakeClient{}
	q, st, _ := newTestQueue(t, client)
	ctx := context.Background()
	testSubscription(t, st)

	folder := t.TempDir()
	opts := sub.DownloadOptions{
		MaxHeight:      "720",
		FolderPath:     folder,
		Output:         "%(title)s",
		ArchivePath:    filepath.Join(t.TempDir(), "archives", "Chan"),
		AdditionalArgs: []string{"--no-playlist"},
	}
	require.NoError(t, q.Submit(ctx, "https://site/w/1", model.TypeVideo, opts, "", "sub-1", "Chan", model.ItemDescriptor{Title: "T"}))
	q.Wait()

	require.Len(t, client.args, 1)
	args := client.args[0]
	assert.Contains(t, args, filepath.Join(folder, "%(title)s")+".%(ext)s")
	assert.Contains(t, args, "bestvideo[height<=720]+bestaudio/best[height<=720]")
	assert.Contains(t, args, filepath.Join(opts.ArchivePath, "archive_video.txt"))
	assert.Contains(t, args, "--no-playlist")
}

func TestQueue_CustomFormatOverride(t *testing.T) {
	client := &fakeClient{}
	q, st, _ := newTestQueue(t, client)
	ctx := context.Background()
	testSubscription(t, st)

	opts := sub.DownloadOptions{
		FolderPath:     t.TempDir(),
		Output:         "%(title)s",
		AdditionalArgs: []string{"-f", "worst"},
	}
	require.NoError(t, q.Submit(ctx, "https://site/w/1", model.TypeVideo, opts, "", "sub-1", "Chan", model.ItemDescriptor{Title: "T"}))
	q.Wait()

	require.Len(t, client.args, 1)
	count := 0
	for i, arg := range client.args[0] {
		if arg == "-f" {
			count++
			assert.Equal(t, "worst", client.args[0][i+1])
		}
	}
	assert.Equal(t, 1, count)
}

func TestQueue_FallbackPathFromTitle(t *testing.T) {
	client := &fakeClient{}
	q, st, _ := newTestQueue(t, client)
	ctx := context.Background()
	testSubscription(t, st)

	folder := t.TempDir()
	opts := sub.DownloadOptions{FolderPath: folder, Output: "%(title)s"}
	item := model.ItemDescriptor{Title: "My Clip"}

	require.NoError(t, q.Submit(ctx, "https://site/w/1", model.TypeAudio, opts, "", "sub-1", "Chan", item))
	q.Wait()

	files, err := st.FilesBySubscription(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(folder, "My Clip.mp3"), files[0].Path)
}
