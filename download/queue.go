// Package download runs the background download pipeline that turns accepted
// subscription items into files on disk.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/myrenyang/VideoDownloader/config"
	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
	"github.com/myrenyang/VideoDownloader/sub"
	"github.com/myrenyang/VideoDownloader/ytdl"
)

// Queue executes download jobs with bounded concurrency. Each submitted job
// is persisted before it runs so the dedup layer can see in-flight work.
type Queue struct {
	cfg    *config.Config
	store  *store.Store
	client ytdl.Client
	logger *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewQueue constructs a Queue sized by cfg.MaxConcurrentDownloads.
func NewQueue(cfg *config.Config, st *store.Store, client ytdl.Client, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:    cfg,
		store:  st,
		client: client,
		logger: logging.Default(logger),
		sem:    make(chan struct{}, cfg.MaxConcurrentDownloads),
	}
}

// Submit implements sub.Pipeline. The job record is written synchronously;
// the download itself runs on a worker goroutine.
func (q *Queue) Submit(ctx context.Context, url string, contentType model.ContentType,
	opts sub.DownloadOptions, ownerID, subID, subName string, item model.ItemDescriptor) error {
	entry := &model.QueueEntry{SubscriptionID: subID, URL: url}
	if err := q.store.InsertQueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("submit download: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case q.sem <- struct{}{}:
			defer func() { <-q.sem }()
		case <-ctx.Done():
			q.finish(entry.ID, ctx.Err())
			return
		}
		q.run(ctx, entry, url, contentType, opts, subName, item)
	}()
	return nil
}

// Wait blocks until every submitted job has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context, entry *model.QueueEntry, url string,
	contentType model.ContentType, opts sub.DownloadOptions, subName string, item model.ItemDescriptor) {
	if err := q.store.SetQueueEntryRunning(ctx, entry.ID, true); err != nil {
		q.logger.Error("could not mark job running", "id", entry.ID, "error", err)
	}

	args, err := q.buildArgs(contentType, opts)
	if err != nil {
		q.finish(entry.ID, err)
		return
	}

	q.logger.Info("downloading item",
		"subscription", subName, "url", url, "title", item.Title)

	result, err := q.client.Download(ctx, url, args)
	if err != nil {
		q.logger.Error("download failed",
			"subscription", subName, "url", url, "error", err)
		q.finish(entry.ID, err)
		return
	}

	file := materialize(entry.SubscriptionID, url, contentType, opts, item, result)
	if err := q.store.InsertFile(ctx, file); err != nil {
		q.finish(entry.ID, err)
		return
	}
	q.finish(entry.ID, nil)
	q.logger.Info("download finished",
		"subscription", subName, "url", url, "path", file.Path)
}

func (q *Queue) finish(id int64, jobErr error) {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	// finishing uses a background context so queue state stays consistent
	// even when the submitting context is gone
	if err := q.store.FinishQueueEntry(context.Background(), id, msg); err != nil {
		q.logger.Error("could not finish queue entry", "id", id, "error", err)
	}
}

// buildArgs assembles the extractor invocation for one job from the resolved
// download options. A custom -f token overrides the computed selector.
func (q *Queue) buildArgs(contentType model.ContentType, opts sub.DownloadOptions) ([]string, error) {
	output := filepath.Join(opts.FolderPath, opts.Output) + ".%(ext)s"
	args := []string{"-o", output, "--write-info-json", "--print-json", "--no-progress"}

	if contentType == model.TypeAudio {
		args = append(args, "-f", "bestaudio", "-x", "--audio-format", "mp3")
	} else if opts.MaxHeight != "" {
		selector := fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", opts.MaxHeight, opts.MaxHeight)
		args = append(args, "-f", selector, "--merge-output-format", "mp4")
	} else {
		args = append(args, "-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/mp4")
	}

	if opts.ArchivePath != "" {
		if err := os.MkdirAll(opts.ArchivePath, 0o755); err != nil {
			return nil, fmt.Errorf("ensure archive dir: %w", err)
		}
		archiveFile := filepath.Join(opts.ArchivePath, "archive_"+string(contentType)+".txt")
		args = append(args, "--download-archive", archiveFile)
	}

	if len(opts.AdditionalArgs) > 0 {
		if sub.HasToken(opts.AdditionalArgs, "-f") {
			args = sub.StripFlag(args, "-f", true)
		}
		args = append(args, opts.AdditionalArgs...)
	}
	return args, nil
}

// materialize builds the File record for a completed job, preferring the
// backend's final report over the originally polled metadata.
func materialize(subID, url string, contentType model.ContentType,
	opts sub.DownloadOptions, item model.ItemDescriptor, result *model.ItemDescriptor) *model.File {
	file := &model.File{
		UID:            uuid.NewString(),
		SubscriptionID: subID,
		URL:            url,
		Title:          item.Title,
		UploadDate:     item.UploadDate,
		Height:         item.Height,
		ABR:            item.ABR,
	}
	if result != nil {
		if result.Title != "" {
			file.Title = result.Title
		}
		if result.UploadDate != "" {
			file.UploadDate = result.UploadDate
		}
		if result.Metric(contentType) > 0 {
			file.Height = result.Height
			file.ABR = result.ABR
		}
	}

	switch {
	case result != nil && result.Filename != "":
		file.Path = result.Filename
	case item.Filename != "":
		file.Path = item.Filename
	default:
		file.Path = filepath.Join(opts.FolderPath, file.Title+contentType.Ext())
	}
	return file
}

var _ sub.Pipeline = (*Queue)(nil)
