package sub

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/myrenyang/VideoDownloader/config"
	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/probe"
	"github.com/myrenyang/VideoDownloader/store"
	"github.com/myrenyang/VideoDownloader/ytdl"
)

// Pipeline is the external download pipeline a sync hands accepted items to.
type Pipeline interface {
	Submit(ctx context.Context, url string, contentType model.ContentType,
		opts DownloadOptions, ownerID, subID, subName string,
		item model.ItemDescriptor) error
}

// SyncResult reports the outcome of one sync attempt.
type SyncResult struct {
	// Accepted holds the genuinely new items submitted for download.
	Accepted []model.ItemDescriptor

	// AlreadyRunning is set when the sync aborted because another poll for
	// the subscription was in progress. No poll was invoked.
	AlreadyRunning bool
}

// Syncer orchestrates subscription synchronization.
type Syncer struct {
	cfg      *config.Config
	store    *store.Store
	client   ytdl.Client
	builder  *Builder
	filter   *Filter
	fresh    *Reconciler
	pipeline Pipeline
	prober   *probe.Prober
	logger   *slog.Logger
}

// NewSyncer constructs a Syncer and its internal components.
func NewSyncer(cfg *config.Config, st *store.Store, client ytdl.Client, pipeline Pipeline, logger *slog.Logger) *Syncer {
	logger = logging.Default(logger)
	builder := NewBuilder(cfg, st, logger)
	return &Syncer{
		cfg:      cfg,
		store:    st,
		client:   client,
		builder:  builder,
		filter:   NewFilter(st, logger),
		fresh:    NewReconciler(st, client, builder, logger),
		pipeline: pipeline,
		logger:   logger,
	}
}

// EnableFeedProbe attaches an RSS fast probe consulted before full polls.
func (s *Syncer) EnableFeedProbe(p *probe.Prober) {
	s.prober = p
}

// Reconciler exposes the fresh-upload reconciler so callers can start its
// asynchronous worker.
func (s *Syncer) Reconciler() *Reconciler {
	return s.fresh
}

// Builder exposes the query builder.
func (s *Syncer) Builder() *Builder {
	return s.builder
}

// currentState re-fetches the subscription and corroborates its downloading
// flag against running queue entries. The flag is never trusted from memory
// across a suspension point.
func (s *Syncer) currentState(ctx context.Context, id string) (*model.Subscription, error) {
	subscription, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !subscription.Downloading {
		running, err := s.store.RunningQueueCount(ctx, id)
		if err != nil {
			return nil, err
		}
		subscription.Downloading = running > 0
	}
	return subscription, nil
}

// Sync runs one poll cycle for a subscription: exclusivity check, poll,
// fresh-upload reconciliation, dedup, and job submission.
//
// Exclusivity is cooperative: the persisted downloading flag allows at most
// one concurrent poll per subscription, and a race between concurrent
// triggers degrades to a harmless double-poll because dedup makes re-polling
// idempotent.
func (s *Syncer) Sync(ctx context.Context, subID string) (*SyncResult, error) {
	subscription, err := s.currentState(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	if subscription.Downloading {
		s.logger.Debug("sync already in progress; skipping",
			"subscription", subscription.Name)
		return &SyncResult{AlreadyRunning: true}, nil
	}

	if err := s.store.SetSubscriptionDownloading(ctx, subscription.ID, true); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	dir := s.builder.StorageDir(subscription)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.cleanup(ctx, subscription)
		return nil, fmt.Errorf("sync: ensure storage dir: %w", err)
	}

	if skip := s.probeSaysNothingNew(ctx, subscription); skip {
		s.cleanup(ctx, subscription)
		s.reconcileFreshUploads(ctx, subscription)
		return &SyncResult{}, nil
	}

	args, err := s.builder.Args(ctx, subscription, false, "")
	if err != nil {
		s.cleanup(ctx, subscription)
		return nil, fmt.Errorf("sync: %w", err)
	}

	s.logger.Debug("polling subscription for new items",
		"subscription", subscription.Name, "url", subscription.URL)
	items, pollErr := s.client.Poll(ctx, subscription.URL, args)

	// flag release and snapshot removal happen regardless of poll outcome
	s.cleanup(ctx, subscription)

	if pollErr != nil {
		s.logger.Error("subscription poll failed; treating as no new items",
			"subscription", subscription.Name, "error", pollErr)
		return &SyncResult{}, nil
	}

	s.logger.Debug("finished subscription check",
		"subscription", subscription.Name, "items", len(items))

	s.reconcileFreshUploads(ctx, subscription)

	if len(items) == 0 {
		return &SyncResult{}, nil
	}

	accepted, err := s.filter.FilterNew(ctx, subscription, items)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	opts := s.builder.DownloadOptions(subscription)
	for i := range accepted {
		item := accepted[i]
		err := s.pipeline.Submit(ctx, item.WebpageURL, subscription.Type, opts,
			subscription.OwnerID, subscription.ID, subscription.Name, item)
		if err != nil {
			s.logger.Error("could not submit download job",
				"subscription", subscription.Name, "url", item.WebpageURL, "error", err)
		}
	}
	return &SyncResult{Accepted: accepted}, nil
}

// SyncAll syncs every unpaused subscription, at most cfg.MaxConcurrentSyncs
// at a time. A failing subscription never affects the others.
func (s *Syncer) SyncAll(ctx context.Context) (int, error) {
	subs, err := s.store.AllSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync all: %w", err)
	}

	var (
		mu    sync.Mutex
		total int
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, s.cfg.MaxConcurrentSyncs)

	for _, subscription := range subs {
		if subscription.Paused {
			continue
		}
		wg.Add(1)
		go func(id, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := s.Sync(ctx, id)
			if err != nil {
				s.logger.Error("sync failed", "subscription", name, "error", err)
				return
			}
			mu.Lock()
			total += len(result.Accepted)
			mu.Unlock()
		}(subscription.ID, subscription.Name)
	}
	wg.Wait()
	return total, nil
}

func (s *Syncer) probeSaysNothingNew(ctx context.Context, subscription *model.Subscription) bool {
	if s.prober == nil || !s.cfg.FeedProbe {
		return false
	}
	checked, unseen, err := s.prober.Unseen(ctx, s.store, subscription)
	if err != nil {
		s.logger.Debug("feed probe failed; falling back to full poll",
			"subscription", subscription.Name, "error", err)
		return false
	}
	if !checked || unseen {
		return false
	}
	s.logger.Debug("feed probe found nothing unseen; skipping full poll",
		"subscription", subscription.Name)
	return true
}

func (s *Syncer) reconcileFreshUploads(ctx context.Context, subscription *model.Subscription) {
	if !s.cfg.RedownloadFreshUploads {
		return
	}
	if err := s.fresh.MarkFresh(ctx, subscription); err != nil {
		s.logger.Error("fresh-upload mark phase failed",
			"subscription", subscription.Name, "error", err)
	}
	if err := s.fresh.Dispatch(ctx, subscription); err != nil {
		s.logger.Error("fresh-upload check dispatch failed",
			"subscription", subscription.Name, "error", err)
	}
}

// cleanup clears the exclusivity flag and removes the temporary dedup
// snapshot. Both are best-effort and run on every sync exit path.
func (s *Syncer) cleanup(ctx context.Context, subscription *model.Subscription) {
	if err := s.store.SetSubscriptionDownloading(ctx, subscription.ID, false); err != nil {
		s.logger.Error("could not clear downloading flag",
			"subscription", subscription.Name, "error", err)
	}
	if err := os.Remove(s.builder.SnapshotPath(subscription)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("could not remove dedup snapshot",
			"subscription", subscription.Name, "error", err)
	}
}
