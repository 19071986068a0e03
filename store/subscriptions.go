package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/myrenyang/VideoDownloader/model"
)

const subscriptionColumns = `id, url, name, is_playlist, type, max_quality,
	custom_output, custom_args, timerange, owner_id, paused, downloading, created_at`

// InsertSubscription persists a new subscription record.
func (s *Store) InsertSubscription(ctx context.Context, sub *model.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.URL, sub.Name, boolToInt(sub.IsPlaylist), string(sub.Type),
		sub.MaxQuality, sub.CustomOutput, sub.CustomArgs, sub.Timerange,
		sub.OwnerID, boolToInt(sub.Paused), boolToInt(sub.Downloading),
		sub.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription rewrites every mutable field of an existing record.
func (s *Store) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET url = ?, name = ?, is_playlist = ?, type = ?,
			max_quality = ?, custom_output = ?, custom_args = ?, timerange = ?,
			owner_id = ?, paused = ?, downloading = ?
		 WHERE id = ?`,
		sub.URL, sub.Name, boolToInt(sub.IsPlaylist), string(sub.Type),
		sub.MaxQuality, sub.CustomOutput, sub.CustomArgs, sub.Timerange,
		sub.OwnerID, boolToInt(sub.Paused), boolToInt(sub.Downloading), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row)
}

// GetSubscriptionByURL retrieves a subscription by URL and owner.
func (s *Store) GetSubscriptionByURL(ctx context.Context, url, ownerID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE url = ? AND owner_id = ?`,
		url, ownerID)
	return scanSubscription(row)
}

// GetSubscriptionByName retrieves a subscription by its identity triple.
func (s *Store) GetSubscriptionByName(ctx context.Context, name string, isPlaylist bool, ownerID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE name = ? AND is_playlist = ? AND owner_id = ?`,
		name, boolToInt(isPlaylist), ownerID)
	return scanSubscription(row)
}

// ListSubscriptions retrieves all subscriptions for an owner, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]*model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// AllSubscriptions retrieves every subscription regardless of owner.
func (s *Store) AllSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// SetSubscriptionDownloading flips the persisted exclusivity flag.
func (s *Store) SetSubscriptionDownloading(ctx context.Context, id string, downloading bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET downloading = ? WHERE id = ?`,
		boolToInt(downloading), id)
	if err != nil {
		return fmt.Errorf("set downloading flag: %w", err)
	}
	return nil
}

// SetSubscriptionName updates the resolved display name.
func (s *Store) SetSubscriptionName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("set subscription name: %w", err)
	}
	return nil
}

// SetSubscriptionPaused updates the paused flag.
func (s *Store) SetSubscriptionPaused(ctx context.Context, id string, paused bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET paused = ? WHERE id = ?`, boolToInt(paused), id)
	if err != nil {
		return fmt.Errorf("set paused flag: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription together with its files, queue
// entries, and archive entries. Row removal is unconditional so a failed
// directory cleanup elsewhere can never strand child records.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM files WHERE sub_id = ?`,
		`DELETE FROM download_queue WHERE sub_id = ?`,
		`DELETE FROM archives WHERE sub_id = ?`,
		`DELETE FROM subscriptions WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("cascade delete subscription: %w", err)
		}
	}
	return tx.Commit()
}

func scanSubscription(row *sql.Row) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var isPlaylist, paused, downloading int
	var subType string
	var createdAt int64

	err := row.Scan(&sub.ID, &sub.URL, &sub.Name, &isPlaylist, &subType,
		&sub.MaxQuality, &sub.CustomOutput, &sub.CustomArgs, &sub.Timerange,
		&sub.OwnerID, &paused, &downloading, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.IsPlaylist = intToBool(isPlaylist)
	sub.Type = model.ContentType(subType)
	sub.Paused = intToBool(paused)
	sub.Downloading = intToBool(downloading)
	sub.CreatedAt = unixToTime(createdAt)
	return sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		var isPlaylist, paused, downloading int
		var subType string
		var createdAt int64

		err := rows.Scan(&sub.ID, &sub.URL, &sub.Name, &isPlaylist, &subType,
			&sub.MaxQuality, &sub.CustomOutput, &sub.CustomArgs, &sub.Timerange,
			&sub.OwnerID, &paused, &downloading, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}

		sub.IsPlaylist = intToBool(isPlaylist)
		sub.Type = model.ContentType(subType)
		sub.Paused = intToBool(paused)
		sub.Downloading = intToBool(downloading)
		sub.CreatedAt = unixToTime(createdAt)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
