// Package ytdl drives the external metadata extractor (yt-dlp or youtube-dl)
// as a subprocess and parses its JSON-lines output.
package ytdl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
)

var commandContext = exec.CommandContext

// Client defines extractor behaviour consumed by the engine.
type Client interface {
	// Poll runs a full listing against the URL and returns every parseable
	// item descriptor. Unparseable output lines are skipped individually.
	Poll(ctx context.Context, url string, args []string) ([]model.ItemDescriptor, error)

	// Info fetches a single item's metadata.
	Info(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error)

	// Download executes a real download and returns the final item metadata
	// when the backend reports it (may be nil on quiet output).
	Download(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithLogger attaches a logger for skip diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CLI) {
		c.logger = logging.Default(logger)
	}
}

// CLI wraps the extractor command-line binary.
type CLI struct {
	binary string
	logger *slog.Logger
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp", logger: logging.NewNop()}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Poll implements Client.
func (c *CLI) Poll(ctx context.Context, url string, args []string) ([]model.ItemDescriptor, error) {
	lines, err := c.run(ctx, url, args)
	if err != nil {
		return nil, err
	}

	items, skipped := ParseLines(lines)
	if skipped > 0 {
		c.logger.Warn("skipped unparseable extractor output lines",
			"url", url, "skipped", skipped, "parsed", len(items))
	}
	return items, nil
}

// Info implements Client. The caller supplies single-item args (dump-json,
// playlist end 1); the first parseable record wins.
func (c *CLI) Info(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error) {
	lines, err := c.run(ctx, url, args)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		item, err := ParseItem([]byte(line))
		if err != nil {
			continue
		}
		return item, nil
	}
	return nil, fmt.Errorf("no parseable info output for %s", url)
}

// Download implements Client.
func (c *CLI) Download(ctx context.Context, url string, args []string) (*model.ItemDescriptor, error) {
	lines, err := c.run(ctx, url, args)
	if err != nil {
		return nil, err
	}

	// The backend prints the final info record last when print-json is set.
	for i := len(lines) - 1; i >= 0; i-- {
		item, err := ParseItem([]byte(lines[i]))
		if err != nil {
			continue
		}
		return item, nil
	}
	return nil, nil
}

func (c *CLI) run(ctx context.Context, url string, args []string) ([]string, error) {
	if url == "" {
		return nil, errors.New("url required")
	}

	full := append(append([]string(nil), args...), url)
	cmd := commandContext(ctx, c.binary, full...) //nolint:gosec

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", c.binary, err, excerpt(stderr.String()))
	}

	lines := splitLines(stdout.String())
	if len(lines) == 0 && stderr.Len() > 0 {
		return nil, fmt.Errorf("%s produced no output: %s", c.binary, excerpt(stderr.String()))
	}
	return lines, nil
}

func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	const limit = 400
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

var _ Client = (*CLI)(nil)
