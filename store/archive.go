package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/myrenyang/VideoDownloader/model"
)

// ArchiveExists reports whether an item is recorded as "never redownload".
func (s *Store) ArchiveExists(ctx context.Context, e model.ArchiveEntry) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archives
		 WHERE extractor = ? AND external_id = ? AND type = ? AND owner_id = ? AND sub_id = ?`,
		e.Extractor, e.ExternalID, string(e.Type), e.OwnerID, e.SubscriptionID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check archive: %w", err)
	}
	return count > 0, nil
}

// AddArchive records an item in the ledger. Adding an existing key is a
// no-op, never an error.
func (s *Store) AddArchive(ctx context.Context, e model.ArchiveEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archives (extractor, external_id, type, title, owner_id, sub_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Extractor, e.ExternalID, string(e.Type), e.Title, e.OwnerID, e.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("add archive entry: %w", err)
	}
	return nil
}

// RemoveArchive deletes an item from the ledger. Removing an absent key is a
// no-op, never an error.
func (s *Store) RemoveArchive(ctx context.Context, e model.ArchiveEntry) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM archives
		 WHERE extractor = ? AND external_id = ? AND type = ? AND owner_id = ? AND sub_id = ?`,
		e.Extractor, e.ExternalID, string(e.Type), e.OwnerID, e.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("remove archive entry: %w", err)
	}
	return nil
}

// ArchiveSnapshot serializes all matching ledger keys as newline-delimited
// "extractor externalId" pairs for injection into the extractor's own
// download-archive mechanism. An empty ledger yields an empty string.
func (s *Store) ArchiveSnapshot(ctx context.Context, t model.ContentType, ownerID, subID string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT extractor, external_id FROM archives
		 WHERE type = ? AND owner_id = ? AND sub_id = ?
		 ORDER BY extractor, external_id`,
		string(t), ownerID, subID)
	if err != nil {
		return "", fmt.Errorf("query archive snapshot: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var extractor, externalID string
		if err := rows.Scan(&extractor, &externalID); err != nil {
			return "", fmt.Errorf("scan archive entry: %w", err)
		}
		b.WriteString(extractor)
		b.WriteString(" ")
		b.WriteString(externalID)
		b.WriteString("\n")
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
