// Package sub implements the subscription synchronization engine: query
// building, dedup filtering, fresh-upload reconciliation, and the per
// subscription sync orchestration.
package sub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/myrenyang/VideoDownloader/config"
	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/store"
)

// customArgsDelimiter separates tokens inside a subscription's custom
// argument string. A double comma keeps single commas usable inside values.
const customArgsDelimiter = ",,"

// snapshotFileName is the temporary per-subscription dedup snapshot handed to
// the extractor's own download-archive mechanism.
const snapshotFileName = "archive.txt"

// deniedArgs are stripped from every built parameter list as a final safety
// valve, independent of where they came from. Comment scraping in particular
// makes large polls prohibitively slow.
var deniedArgs = []string{"--write-comments"}

// strippedFormatFields are removed from accepted items before submission so
// job records stay small.
var strippedFormatFields = []string{"format_id", "filesize", "filesize_approx"}

// Builder deterministically constructs extractor parameter lists for polls
// and redownloads. It never mutates the subscription and returns a fresh
// slice on every call.
type Builder struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg *config.Config, st *store.Store, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, store: st, logger: logging.Default(logger)}
}

// StorageDir resolves the subscription's on-disk content directory.
func (b *Builder) StorageDir(s *model.Subscription) string {
	return filepath.Join(b.cfg.BasePath(s.OwnerID), s.DirName(), s.Name)
}

// SnapshotPath is where the temporary dedup snapshot lives for one sync
// cycle. Keyed per subscription so concurrent syncs never collide.
func (b *Builder) SnapshotPath(s *model.Subscription) string {
	return filepath.Join(b.StorageDir(s), snapshotFileName)
}

// Args builds the parameter list for a poll, or for a targeted redownload
// when redownload is set. desiredPath overrides the output path when
// non-empty (used by the fresh-upload upgrade check to replace in place).
func (b *Builder) Args(ctx context.Context, s *model.Subscription, redownload bool, desiredPath string) ([]string, error) {
	dir := b.StorageDir(s)

	output := filepath.Join(dir, b.cfg.FileOutput)
	switch {
	case desiredPath != "":
		output = desiredPath
	case s.CustomOutput != "":
		output = filepath.Join(dir, s.CustomOutput)
	}
	output += ".%(ext)s"

	args := []string{"--dump-json", "-o", output}
	if redownload {
		// a redownload is a single targeted re-fetch, not a listing walk
		args = append(args, "-ci")
	} else {
		args = append(args, "-ciw")
	}
	args = append(args, "--write-info-json", "--print-json")
	args = append(args, qualityArgs(s)...)

	snapshot, err := b.store.ArchiveSnapshot(ctx, s.Type, s.OwnerID, s.ID)
	if err != nil {
		return nil, fmt.Errorf("build args: %w", err)
	}
	if count := countLines(snapshot); count > 0 {
		path := b.SnapshotPath(s)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("build args: ensure storage dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(snapshot), 0o644); err != nil {
			return nil, fmt.Errorf("build args: write dedup snapshot: %w", err)
		}
		b.logger.Debug("wrote temporary dedup snapshot",
			"subscription", s.Name, "entries", count)
		args = append(args, "--download-archive", path)
	}

	if custom := SplitCustomArgs(s.CustomArgs); len(custom) > 0 {
		if HasToken(custom, "-f") {
			// custom quality selector wins outright over the computed one
			args = StripFlag(args, "-f", true)
		}
		args = append(args, custom...)
	}

	if s.Timerange != "" && !redownload {
		stamp, err := ResolveTimerange(s.Timerange, time.Now().UTC())
		if err != nil {
			b.logger.Warn("ignoring unusable timerange",
				"subscription", s.Name, "timerange", s.Timerange, "error", err)
		} else {
			args = append(args, "--dateafter", stamp)
		}
	}

	args = b.appendGlobalArgs(args)
	args = stripDenied(args)
	return args, nil
}

// InfoArgs builds the parameter list for a single-item info fetch, used to
// resolve an unnamed subscription's display name from its first item.
func (b *Builder) InfoArgs() []string {
	args := []string{"--dump-json", "--playlist-end", "1"}
	return b.appendGlobalArgs(args)
}

// appendGlobalArgs applies the optional global settings: cookies, thumbnail
// retrieval, rate limiting, and the backend-specific sidecar flag.
func (b *Builder) appendGlobalArgs(args []string) []string {
	if b.cfg.UseCookies {
		if _, err := os.Stat(b.cfg.CookiesPath); err == nil {
			args = append(args, "--cookies", b.cfg.CookiesPath)
		} else {
			b.logger.Warn("cookies file could not be found; skipping",
				"path", b.cfg.CookiesPath)
		}
	}

	if b.cfg.IncludeThumbnail {
		args = append(args, "--write-thumbnail")
	}

	if b.cfg.RateLimit != "" && !HasToken(args, "-r") && !HasToken(args, "--limit-rate") {
		args = append(args, "-r", b.cfg.RateLimit)
	}

	if b.cfg.Backend == "yt-dlp" {
		args = append(args, "--no-clean-info-json")
	}
	return args
}

// DownloadOptions is the resolved option set carried by a submitted job.
type DownloadOptions struct {
	MaxHeight      string
	FolderPath     string
	Output         string
	ArchivePath    string
	AdditionalArgs []string
}

// DownloadOptions resolves the non-poll option variant handed to the
// download pipeline together with each accepted item.
func (b *Builder) DownloadOptions(s *model.Subscription) DownloadOptions {
	maxHeight := ""
	if s.MaxQuality != "" && s.MaxQuality != "best" {
		maxHeight = s.MaxQuality
	}

	output := b.cfg.FileOutput
	if s.CustomOutput != "" {
		output = s.CustomOutput
	}

	return DownloadOptions{
		MaxHeight:      maxHeight,
		FolderPath:     b.StorageDir(s),
		Output:         output,
		ArchivePath:    filepath.Join(b.cfg.BasePath(s.OwnerID), "archives", s.Name),
		AdditionalArgs: SplitCustomArgs(s.CustomArgs),
	}
}

func qualityArgs(s *model.Subscription) []string {
	if s.Type == model.TypeAudio {
		return []string{"-f", "bestaudio", "-x", "--audio-format", "mp3"}
	}
	if s.MaxQuality == "" || s.MaxQuality == "best" {
		return []string{"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/mp4"}
	}
	selector := fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", s.MaxQuality, s.MaxQuality)
	return []string{"-f", selector, "--merge-output-format", "mp4"}
}

// SplitCustomArgs tokenizes a subscription's custom argument string. Tokens
// are compared by equality downstream, never by substring matching.
func SplitCustomArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var tokens []string
	for _, token := range strings.Split(s, customArgsDelimiter) {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// HasToken reports whether args contains token as an exact element.
func HasToken(args []string, token string) bool {
	for _, arg := range args {
		if arg == token {
			return true
		}
	}
	return false
}

// StripFlag returns args without the named flag. When hasValue is set the
// element following the flag is removed with it.
func StripFlag(args []string, flag string, hasValue bool) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == flag {
			if hasValue && i+1 < len(args) {
				i++
			}
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func stripDenied(args []string) []string {
	for _, denied := range deniedArgs {
		args = StripFlag(args, denied, false)
	}
	return args
}

func countLines(s string) int {
	count := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}
