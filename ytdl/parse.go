package ytdl

import (
	"encoding/json"
	"errors"

	"github.com/myrenyang/VideoDownloader/model"
)

// ParseItem decodes one extractor output line into an item descriptor. The
// full attribute bag is preserved in Raw for downstream consumers.
func ParseItem(line []byte) (*model.ItemDescriptor, error) {
	var item model.ItemDescriptor
	if err := json.Unmarshal(line, &item); err != nil {
		return nil, err
	}
	if item.ExternalID == "" && item.WebpageURL == "" {
		return nil, errors.New("output line is not an item record")
	}

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err == nil {
		item.Raw = raw
	}
	return &item, nil
}

// ParseLines decodes a batch of output lines. A malformed line is skipped
// individually and counted; it never aborts the batch.
func ParseLines(lines []string) (items []model.ItemDescriptor, skipped int) {
	for _, line := range lines {
		item, err := ParseItem([]byte(line))
		if err != nil {
			skipped++
			continue
		}
		items = append(items, *item)
	}
	return items, skipped
}
