package sub

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
	"github.com/myrenyang/VideoDownloader/ytdl"
)

// checkRequest asks the reconciler worker to run one upgrade check.
type checkRequest struct {
	sub  *model.Subscription
	file *model.File
}

// Reconciler manages the fresh-upload lifecycle: marking same-day items as
// provisional and later re-polling them once to see whether a higher-quality
// version has appeared.
type Reconciler struct {
	store   *store.Store
	client  ytdl.Client
	builder *Builder
	logger  *slog.Logger

	// requests is non-nil once the asynchronous worker is started; without
	// a worker, checks run synchronously in Dispatch.
	requests chan checkRequest
}

// NewReconciler constructs a Reconciler.
func NewReconciler(st *store.Store, client ytdl.Client, builder *Builder, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   st,
		client:  client,
		builder: builder,
		logger:  logging.Default(logger),
	}
}

// StartWorker launches the asynchronous upgrade checker. Checks dispatched
// afterwards are decoupled from the sync call that produced them; the worker
// stops when ctx is cancelled.
func (r *Reconciler) StartWorker(ctx context.Context) {
	r.requests = make(chan checkRequest, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-r.requests:
				r.checkFile(ctx, req.sub, req.file)
			}
		}
	}()
}

// MarkFresh flags every file of the subscription uploaded today as a fresh
// upload. A fresh item may still be mid-processing at the source, so a
// better-quality version can appear later.
func (r *Reconciler) MarkFresh(ctx context.Context, s *model.Subscription) error {
	files, err := r.store.FilesBySubscription(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("mark fresh uploads: %w", err)
	}

	today := model.Today()
	for _, f := range files {
		if f.UploadDate == "" || model.DayStamp(f.UploadDate) != today {
			continue
		}
		if err := r.store.SetFileFreshUpload(ctx, f.UID, true); err != nil {
			return fmt.Errorf("mark fresh uploads: %w", err)
		}
	}
	return nil
}

// Dispatch schedules the day-after upgrade check for every fresh-flagged
// file whose upload date is now in the past. With a running worker the
// checks are queued; otherwise they run synchronously.
func (r *Reconciler) Dispatch(ctx context.Context, s *model.Subscription) error {
	files, err := r.store.FilesBySubscription(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("dispatch fresh checks: %w", err)
	}

	today := model.Today()
	for _, f := range files {
		if !f.FreshUpload || model.DayStamp(f.UploadDate) >= today {
			continue
		}
		if r.requests == nil {
			r.checkFile(ctx, s, f)
			continue
		}
		select {
		case r.requests <- checkRequest{sub: s, file: f}:
		default:
			// dropped requests are re-dispatched by the next poll
			r.logger.Warn("fresh-upload check queue full; deferring",
				"subscription", s.Name, "file", f.UID)
		}
	}
	return nil
}

// checkFile runs one quality-upgrade check. Whatever the outcome, the fresh
// flag is cleared once the check has been attempted: this is a one-shot
// day-after recheck, not a recurring poll.
func (r *Reconciler) checkFile(ctx context.Context, s *model.Subscription, f *model.File) {
	defer func() {
		if err := r.store.SetFileFreshUpload(ctx, f.UID, false); err != nil {
			r.logger.Error("could not clear fresh-upload flag",
				"file", f.UID, "error", err)
		}
	}()

	desiredPath := strings.TrimSuffix(f.Path, filepath.Ext(f.Path))
	args, err := r.builder.Args(ctx, s, true, desiredPath)
	if err != nil {
		r.logger.Error("could not build upgrade-check args",
			"subscription", s.Name, "file", f.UID, "error", err)
		return
	}

	r.logger.Debug("checking whether a better version of a fresh upload exists",
		"subscription", s.Name, "url", f.URL)

	info, err := r.client.Info(ctx, f.URL, args)
	if err != nil {
		// item no longer available at the source; nothing to upgrade
		r.logger.Debug("fresh-upload info poll failed",
			"url", f.URL, "error", err)
		return
	}

	current := f.Metric(s.Type)
	polled := info.Metric(s.Type)
	if polled <= current {
		return
	}

	result, err := r.client.Download(ctx, f.URL, args)
	if err != nil {
		r.logger.Warn("failed to download better version",
			"url", f.URL, "error", err)
		return
	}

	upgraded := polled
	if result != nil && result.Metric(s.Type) > 0 {
		upgraded = result.Metric(s.Type)
	}
	if err := r.store.SetFileMetric(ctx, f.UID, s.Type, upgraded); err != nil {
		r.logger.Error("could not record upgraded quality metric",
			"file", f.UID, "error", err)
		return
	}
	r.logger.Info("upgraded fresh upload",
		"url", f.URL, "metric", s.Type.MetricKey(),
		"from", current, "to", upgraded)
}
