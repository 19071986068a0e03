package sub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
)

// metadataFileName is the per-subscription metadata backup written alongside
// the downloaded content.
const metadataFileName = "subscription.json"

var (
	// ErrURLExists signals that an unnamed subscription for the same URL and
	// owner already exists.
	ErrURLExists = errors.New("a subscription for this URL already exists")

	// ErrNameCollision signals that the requested name is taken by another
	// subscription of the same kind and owner.
	ErrNameCollision = errors.New("a subscription with this name already exists")
)

// Subscribe registers a new subscription, resolves its display name from the
// source when none was given, and runs the initial sync. The record is
// persisted before the name resolution so a crash mid-subscribe leaves a
// recoverable row rather than nothing; if the source cannot be reached the
// subscription is paused and an error returned.
func (s *Syncer) Subscribe(ctx context.Context, subscription *model.Subscription) error {
	if err := subscription.Validate(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if subscription.Type == "" {
		subscription.Type = model.TypeVideo
	}
	if !subscription.IsPlaylist && model.IsPlaylistURL(subscription.URL) {
		subscription.IsPlaylist = true
	}
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}

	if subscription.Name == "" {
		_, err := s.store.GetSubscriptionByURL(ctx, subscription.URL, subscription.OwnerID)
		if err == nil {
			return fmt.Errorf("subscribe %s: %w", subscription.URL, ErrURLExists)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("subscribe: %w", err)
		}
	} else {
		existing, err := s.store.GetSubscriptionByName(ctx, subscription.Name, subscription.IsPlaylist, subscription.OwnerID)
		if err == nil && existing.ID != subscription.ID {
			return fmt.Errorf("subscribe %q: %w", subscription.Name, ErrNameCollision)
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	if err := s.store.InsertSubscription(ctx, subscription); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if subscription.Name == "" {
		if err := s.resolveName(ctx, subscription); err != nil {
			if pauseErr := s.store.SetSubscriptionPaused(ctx, subscription.ID, true); pauseErr != nil {
				s.logger.Error("could not pause unreachable subscription",
					"subscription", subscription.ID, "error", pauseErr)
			}
			return fmt.Errorf("subscribe %s: resolve name: %w", subscription.URL, err)
		}
	}

	if err := s.WriteMetadata(subscription); err != nil {
		s.logger.Warn("could not write subscription metadata backup",
			"subscription", subscription.Name, "error", err)
	}

	if !subscription.Paused {
		if _, err := s.Sync(ctx, subscription.ID); err != nil {
			s.logger.Error("initial sync failed",
				"subscription", subscription.Name, "error", err)
		}
	}
	return nil
}

// resolveName fetches the first item of the source and derives a display
// name from it: the playlist title for playlists, the uploader otherwise.
// A name collision is disambiguated with the subscription ID.
func (s *Syncer) resolveName(ctx context.Context, subscription *model.Subscription) error {
	info, err := s.client.Info(ctx, subscription.URL, s.builder.InfoArgs())
	if err != nil {
		return err
	}

	name := info.DisplayName(subscription.IsPlaylist)
	if name == "" {
		name = subscription.ID
	}

	existing, err := s.store.GetSubscriptionByName(ctx, name, subscription.IsPlaylist, subscription.OwnerID)
	if err == nil && existing.ID != subscription.ID {
		name = name + " - " + subscription.ID
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := s.store.SetSubscriptionName(ctx, subscription.ID, name); err != nil {
		return err
	}
	subscription.Name = name
	s.logger.Info("resolved subscription name",
		"url", subscription.URL, "name", name)
	return nil
}

// Unsubscribe removes a subscription and its child records. When deleteFiles
// is set the content directory is removed too; a failed directory removal is
// logged but never resurrects the records.
func (s *Syncer) Unsubscribe(ctx context.Context, subscription *model.Subscription, deleteFiles bool) error {
	if err := s.store.DeleteSubscription(ctx, subscription.ID); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", subscription.Name, err)
	}

	if !deleteFiles {
		return nil
	}
	if subscription.Name == "" {
		// an unnamed subscription has no directory of its own; removing the
		// bare class dir would take sibling subscriptions with it
		return nil
	}
	if err := os.RemoveAll(s.builder.StorageDir(subscription)); err != nil {
		s.logger.Warn("could not remove subscription directory",
			"subscription", subscription.Name, "error", err)
	}
	return nil
}

// DeleteFile removes a single file record and its on-disk artifacts. With
// forever set the item is archived so future polls never re-download it;
// otherwise any archive entry is removed so the next poll picks it up again.
func (s *Syncer) DeleteFile(ctx context.Context, subscription *model.Subscription, file *model.File, forever bool) error {
	if err := s.store.DeleteFile(ctx, file.UID); err != nil {
		return fmt.Errorf("delete file %s: %w", file.UID, err)
	}

	base := strings.TrimSuffix(file.Path, filepath.Ext(file.Path))
	entry, infoErr := readItemIdentity(base + ".info.json")

	artifacts := []string{
		base + subscription.Type.Ext(),
		base + ".info.json",
		base + ".jpg",
		base + ".webp",
	}
	for _, artifact := range artifacts {
		if err := os.Remove(artifact); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("could not remove file artifact",
				"path", artifact, "error", err)
		}
	}

	if infoErr != nil {
		s.logger.Warn("could not read item identity; leaving archive untouched",
			"file", file.UID, "error", infoErr)
		return nil
	}
	entry.Type = subscription.Type
	entry.OwnerID = subscription.OwnerID
	entry.SubscriptionID = subscription.ID
	entry.Title = file.Title

	if forever {
		if err := s.store.AddArchive(ctx, entry); err != nil {
			return fmt.Errorf("delete file %s: archive: %w", file.UID, err)
		}
		return nil
	}
	if err := s.store.RemoveArchive(ctx, entry); err != nil {
		return fmt.Errorf("delete file %s: unarchive: %w", file.UID, err)
	}
	return nil
}

// WriteMetadata writes the subscription.json backup into the subscription's
// content directory.
func (s *Syncer) WriteMetadata(subscription *model.Subscription) error {
	dir := s.builder.StorageDir(subscription)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	data, err := json.MarshalIndent(subscription, "", "  ")
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	path := filepath.Join(dir, metadataFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// readItemIdentity pulls the extractor and external ID out of a sidecar
// info JSON file.
func readItemIdentity(path string) (model.ArchiveEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ArchiveEntry{}, err
	}
	var sidecar struct {
		ID        string `json:"id"`
		Extractor string `json:"extractor"`
	}
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return model.ArchiveEntry{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if sidecar.ID == "" {
		return model.ArchiveEntry{}, fmt.Errorf("%s: missing item id", path)
	}
	return model.ArchiveEntry{Extractor: sidecar.Extractor, ExternalID: sidecar.ID}, nil
}
