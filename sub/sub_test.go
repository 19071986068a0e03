package sub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myrenyang/VideoDownloader/config"
	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
)

// fakeClient is a scriptable extractor client for tests.
type fakeClient struct {
	mu sync.Mutex

	pollItems []model.ItemDescriptor
	pollErr   error
	pollCalls int
	pollArgs  [][]string

	infoItem *model.ItemDescriptor
	infoErr  error

	downloadItem  *model.ItemDescriptor
	downloadErr   error
	downloadCalls int
}

func (f *fakeClient) Poll(ctx context.Context, url string, args []string) ([]model.ItemDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	f.pollArgs = append(f.pollArgs, append([]string(nil), args...))
	return f.pollItems, f.pollErr
}

func (f *fakeClient) Info(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoItem, f.infoErr
}

func (f *fakeClient) Download(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	return f.downloadItem, f.downloadErr
}

// submission captures one pipeline handoff.
type submission struct {
	url  string
	opts DownloadOptions
	item model.ItemDescriptor
}

type fakePipeline struct {
	mu          sync.Mutex
	submissions []submission
	err         error

	// st, when set, records a queue entry per submission the way the real
	// download pipeline does.
	st *store.Store
}

func (p *fakePipeline) Submit(ctx context.Context, url string, contentType model.ContentType,
	opts DownloadOptions, ownerID, subID, subName string, item model.ItemDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.submissions = append(p.submissions, submission{url: url, opts: opts, item: item})
	if p.st != nil {
		entry := &model.QueueEntry{SubscriptionID: subID, URL: url}
		if err := p.st.InsertQueueEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SubscriptionsDir = t.TempDir()
	cfg.UsersDir = t.TempDir()
	cfg.DatabasePath = ":memory:"
	return &cfg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestSyncer(t *testing.T, cfg *config.Config, st *store.Store, client *fakeClient) (*Syncer, *fakePipeline) {
	t.Helper()
	pipeline := &fakePipeline{}
	return NewSyncer(cfg, st, client, pipeline, logging.NewNop()), pipeline
}

func insertTestSubscription(t *testing.T, st *store.Store, sub *model.Subscription) {
	t.Helper()
	if sub.Type == "" {
		sub.Type = model.TypeVideo
	}
	require.NoError(t, st.InsertSubscription(context.Background(), sub))
}
