package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/myrenyang/VideoDownloader/model"
)

const fileColumns = `uid, sub_id, url, path, title, upload_date, fresh_upload, height, abr`

// InsertFile persists a materialized download.
func (s *Store) InsertFile(ctx context.Context, f *model.File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UID, f.SubscriptionID, f.URL, f.Path, f.Title, f.UploadDate,
		boolToInt(f.FreshUpload), f.Height, f.ABR,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// GetFile retrieves a file by its unique id.
func (s *Store) GetFile(ctx context.Context, uid string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE uid = ?`, uid)
	return scanFile(row)
}

// FileBySubURL finds the file for a (subscription, url) pair.
func (s *Store) FileBySubURL(ctx context.Context, subID, url string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE sub_id = ? AND url = ?`, subID, url)
	return scanFile(row)
}

// FileBySubPath finds the file for a (subscription, path) pair. Catches
// source-side URL changes that resolve to an already-used output path.
func (s *Store) FileBySubPath(ctx context.Context, subID, path string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE sub_id = ? AND path = ?`, subID, path)
	return scanFile(row)
}

// FilesBySubscription lists every file belonging to a subscription.
func (s *Store) FilesBySubscription(ctx context.Context, subID string) ([]*model.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE sub_id = ?`, subID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []*model.File
	for rows.Next() {
		f := &model.File{}
		var fresh int
		if err := rows.Scan(&f.UID, &f.SubscriptionID, &f.URL, &f.Path, &f.Title,
			&f.UploadDate, &fresh, &f.Height, &f.ABR); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.FreshUpload = intToBool(fresh)
		files = append(files, f)
	}
	return files, rows.Err()
}

// SetFileFreshUpload flips the fresh-upload marker.
func (s *Store) SetFileFreshUpload(ctx context.Context, uid string, fresh bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET fresh_upload = ? WHERE uid = ?`, boolToInt(fresh), uid)
	if err != nil {
		return fmt.Errorf("set fresh upload: %w", err)
	}
	return nil
}

// SetFileMetric updates the stored quality metric after an upgrade.
func (s *Store) SetFileMetric(ctx context.Context, uid string, t model.ContentType, value float64) error {
	column := "height"
	if t == model.TypeAudio {
		column = "abr"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET `+column+` = ? WHERE uid = ?`, value, uid)
	if err != nil {
		return fmt.Errorf("set file metric: %w", err)
	}
	return nil
}

// DeleteFile removes a file record.
func (s *Store) DeleteFile(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func scanFile(row *sql.Row) (*model.File, error) {
	f := &model.File{}
	var fresh int
	err := row.Scan(&f.UID, &f.SubscriptionID, &f.URL, &f.Path, &f.Title,
		&f.UploadDate, &fresh, &f.Height, &f.ABR)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.FreshUpload = intToBool(fresh)
	return f, nil
}
