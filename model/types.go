// Package model defines the core data structures for the subscription engine.
package model

import (
	"errors"
	"strings"
	"time"
)

// ContentType selects between video and audio handling for a subscription.
type ContentType string

const (
	TypeVideo ContentType = "video"
	TypeAudio ContentType = "audio"
)

// Ext returns the container extension produced for this content type.
func (t ContentType) Ext() string {
	if t == TypeAudio {
		return ".mp3"
	}
	return ".mp4"
}

// MetricKey returns the quality metric compared for this content type.
func (t ContentType) MetricKey() string {
	if t == TypeAudio {
		return "abr"
	}
	return "height"
}

// Subscription represents a recurring content source (channel or playlist)
// tracked for new-item polling.
type Subscription struct {
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Name         string      `json:"name,omitempty"`
	IsPlaylist   bool        `json:"is_playlist"`
	Type         ContentType `json:"type"`
	MaxQuality   string      `json:"max_quality,omitempty"`
	CustomOutput string      `json:"custom_output,omitempty"`
	CustomArgs   string      `json:"custom_args,omitempty"`
	Timerange    string      `json:"timerange,omitempty"`
	OwnerID      string      `json:"owner_id,omitempty"`
	Paused       bool        `json:"paused"`
	Downloading  bool        `json:"downloading"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Validate checks that the subscription has required fields.
func (s *Subscription) Validate() error {
	if s.URL == "" {
		return errors.New("subscription URL is required")
	}
	if s.Type != "" && s.Type != TypeVideo && s.Type != TypeAudio {
		return errors.New("subscription type must be video or audio")
	}
	return nil
}

// DirName returns the directory class this subscription stores content
// under, relative to the owner's base path.
func (s *Subscription) DirName() string {
	if s.IsPlaylist {
		return "playlists"
	}
	return "channels"
}

// IsPlaylistURL reports whether a URL looks like a playlist rather than a
// channel. Used when the caller does not set IsPlaylist explicitly.
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, "playlist") || strings.Contains(url, "list=")
}

// ItemDescriptor is the parsed result of a single poll for one content item.
// It is ephemeral: it either becomes a queued job, a File, or is dropped.
type ItemDescriptor struct {
	ExternalID    string           `json:"id"`
	Extractor     string           `json:"extractor"`
	WebpageURL    string           `json:"webpage_url"`
	Title         string           `json:"title"`
	UploadDate    string           `json:"upload_date"`
	Filename      string           `json:"_filename"`
	Uploader      string           `json:"uploader"`
	Playlist      string           `json:"playlist"`
	PlaylistTitle string           `json:"playlist_title"`
	Height        float64          `json:"height"`
	ABR           float64          `json:"abr"`
	Formats       []map[string]any `json:"formats"`

	// Raw holds the full decoded attribute bag for downstream consumers.
	Raw map[string]any `json:"-"`
}

// Metric returns the quality metric relevant for the given content type.
func (d *ItemDescriptor) Metric(t ContentType) float64 {
	if t == TypeAudio {
		return d.ABR
	}
	return d.Height
}

// StripFormatFields removes bulky per-format fields from the descriptor's
// attribute bag. Format selection has already happened by the time an item is
// handed downstream, so per-format detail is dead weight in job records.
func (d *ItemDescriptor) StripFormatFields(fields ...string) {
	for _, format := range d.Formats {
		for _, field := range fields {
			delete(format, field)
		}
	}
	raw, ok := d.Raw["formats"].([]any)
	if !ok {
		return
	}
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		for _, field := range fields {
			delete(m, field)
		}
	}
}

// DisplayName resolves a subscription name from the descriptor: playlist
// title for playlists, uploader otherwise.
func (d *ItemDescriptor) DisplayName(isPlaylist bool) string {
	if isPlaylist {
		if d.PlaylistTitle != "" {
			return d.PlaylistTitle
		}
		return d.Playlist
	}
	return d.Uploader
}

// File is a locally materialized item belonging to a subscription.
type File struct {
	UID            string  `json:"uid"`
	SubscriptionID string  `json:"sub_id"`
	URL            string  `json:"url"`
	Path           string  `json:"path"`
	Title          string  `json:"title"`
	UploadDate     string  `json:"upload_date"`
	FreshUpload    bool    `json:"fresh_upload"`
	Height         float64 `json:"height"`
	ABR            float64 `json:"abr"`
}

// Metric returns the stored quality metric for the given content type.
func (f *File) Metric(t ContentType) float64 {
	if t == TypeAudio {
		return f.ABR
	}
	return f.Height
}

// QueueEntry represents an in-flight or pending download job.
type QueueEntry struct {
	ID             int64     `json:"id"`
	SubscriptionID string    `json:"sub_id"`
	URL            string    `json:"url"`
	Running        bool      `json:"running"`
	Finished       bool      `json:"finished"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Active reports whether the entry still counts as in-flight for dedup
// purposes: not finished and not errored.
func (q *QueueEntry) Active() bool {
	return !q.Finished && q.Error == ""
}

// ArchiveEntry marks an item as "never redownload" for a subscription.
type ArchiveEntry struct {
	Extractor      string      `json:"extractor"`
	ExternalID     string      `json:"external_id"`
	Type           ContentType `json:"type"`
	Title          string      `json:"title,omitempty"`
	OwnerID        string      `json:"owner_id,omitempty"`
	SubscriptionID string      `json:"sub_id"`
}

// DayStamp normalizes an upload date to day granularity by stripping
// separators, e.g. "2023-01-15" -> "20230115".
func DayStamp(date string) string {
	return strings.NewReplacer("-", "", "/", "", ".", "").Replace(date)
}

// Today returns the current day stamp in UTC.
func Today() string {
	return time.Now().UTC().Format("20060102")
}
