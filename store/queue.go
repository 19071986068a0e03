package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/myrenyang/VideoDownloader/model"
)

const queueColumns = `id, sub_id, url, running, finished, error, created_at`

// InsertQueueEntry records a new pending download job and returns it with
// its assigned id.
func (s *Store) InsertQueueEntry(ctx context.Context, entry *model.QueueEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO download_queue (sub_id, url, running, finished, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SubscriptionID, entry.URL, boolToInt(entry.Running),
		boolToInt(entry.Finished), entry.Error, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("queue entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// ActiveQueueEntry finds a non-errored, unfinished entry for a
// (subscription, url) pair.
func (s *Store) ActiveQueueEntry(ctx context.Context, subID, url string) (*model.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM download_queue
		 WHERE sub_id = ? AND url = ? AND finished = 0 AND error = ''`,
		subID, url)
	return scanQueueEntry(row)
}

// RunningQueueCount counts currently running jobs for a subscription. Used
// as a corroborating in-progress signal alongside the downloading flag.
func (s *Store) RunningQueueCount(ctx context.Context, subID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM download_queue WHERE sub_id = ? AND running = 1 AND finished = 0`,
		subID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running queue entries: %w", err)
	}
	return count, nil
}

// SetQueueEntryRunning marks a job as started.
func (s *Store) SetQueueEntryRunning(ctx context.Context, id int64, running bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE download_queue SET running = ? WHERE id = ?`, boolToInt(running), id)
	if err != nil {
		return fmt.Errorf("set queue entry running: %w", err)
	}
	return nil
}

// FinishQueueEntry marks a job as finished, recording a failure message when
// the job errored.
func (s *Store) FinishQueueEntry(ctx context.Context, id int64, jobErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE download_queue SET running = 0, finished = 1, error = ? WHERE id = ?`,
		jobErr, id)
	if err != nil {
		return fmt.Errorf("finish queue entry: %w", err)
	}
	return nil
}

func scanQueueEntry(row *sql.Row) (*model.QueueEntry, error) {
	entry := &model.QueueEntry{}
	var running, finished int
	var createdAt int64
	err := row.Scan(&entry.ID, &entry.SubscriptionID, &entry.URL, &running,
		&finished, &entry.Error, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue entry: %w", err)
	}
	entry.Running = intToBool(running)
	entry.Finished = intToBool(finished)
	entry.CreatedAt = unixToTime(createdAt)
	return entry, nil
}
