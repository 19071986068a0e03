package sub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
)

// Filter removes poll results that are already known through any of the
// three dedup signals: existing files, active queue entries, or the archive
// ledger.
type Filter struct {
	store  *store.Store
	logger *slog.Logger
}

// NewFilter constructs a Filter.
func NewFilter(st *store.Store, logger *slog.Logger) *Filter {
	return &Filter{store: st, logger: logging.Default(logger)}
}

// FilterNew returns the genuinely new items, in input order. Accepted items
// have bulky per-format fields stripped before being handed downstream.
func (f *Filter) FilterNew(ctx context.Context, s *model.Subscription, items []model.ItemDescriptor) ([]model.ItemDescriptor, error) {
	var accepted []model.ItemDescriptor
	for i := range items {
		item := items[i]

		known, err := f.knownOrInFlight(ctx, s.ID, item.WebpageURL)
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}

		if item.Filename != "" {
			_, err := f.store.FileBySubPath(ctx, s.ID, item.Filename)
			if err == nil {
				// never silently overwrite an existing file's job
				f.logger.Info("skipping item: resolved path already belongs to another file",
					"subscription", s.Name, "url", item.WebpageURL, "path", item.Filename)
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("dedup path check: %w", err)
			}
		}

		archived, err := f.store.ArchiveExists(ctx, model.ArchiveEntry{
			Extractor:      item.Extractor,
			ExternalID:     item.ExternalID,
			Type:           s.Type,
			OwnerID:        s.OwnerID,
			SubscriptionID: s.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("dedup archive check: %w", err)
		}
		if archived {
			continue
		}

		item.StripFormatFields(strippedFormatFields...)
		accepted = append(accepted, item)
	}
	return accepted, nil
}

func (f *Filter) knownOrInFlight(ctx context.Context, subID, url string) (bool, error) {
	_, err := f.store.FileBySubURL(ctx, subID, url)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("dedup file check: %w", err)
	}

	_, err = f.store.ActiveQueueEntry(ctx, subID, url)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("dedup queue check: %w", err)
	}
	return false, nil
}
