// Package opml provides OPML import and export for subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/myrenyang/VideoDownloader/model"
)

// OPML represents the root OPML structure.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains metadata about the OPML document.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outline elements.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a subscription or grouping in OPML. The type attribute
// carries the content type (video or audio); the playlist grouping comes from
// the enclosing outline.
type Outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLUrl   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

const (
	groupChannels  = "channels"
	groupPlaylists = "playlists"
)

// Parse reads an OPML document and extracts subscriptions.
func Parse(r io.Reader) ([]*model.Subscription, error) {
	var doc OPML
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}
	return extractSubscriptions(doc.Body.Outlines, false), nil
}

// extractSubscriptions recursively walks the outline tree. An enclosing
// outline named "playlists" marks its children as playlist subscriptions.
func extractSubscriptions(outlines []Outline, inPlaylists bool) []*model.Subscription {
	var subs []*model.Subscription

	for _, outline := range outlines {
		if outline.XMLUrl != "" {
			sub := &model.Subscription{
				URL:        outline.XMLUrl,
				Name:       outline.Title,
				IsPlaylist: inPlaylists || model.IsPlaylistURL(outline.XMLUrl),
				Type:       model.TypeVideo,
			}
			if outline.Type == string(model.TypeAudio) {
				sub.Type = model.TypeAudio
			}
			if sub.Name == "" {
				sub.Name = outline.Text
			}
			subs = append(subs, sub)
		}

		if len(outline.Outlines) > 0 {
			childPlaylists := inPlaylists || outline.Text == groupPlaylists
			subs = append(subs, extractSubscriptions(outline.Outlines, childPlaylists)...)
		}
	}
	return subs
}

// Generate writes an OPML document for a list of subscriptions, grouped into
// channels and playlists.
func Generate(w io.Writer, subs []*model.Subscription) error {
	var channels, playlists []Outline
	for _, sub := range subs {
		outline := Outline{
			Text:   sub.Name,
			Title:  sub.Name,
			Type:   string(sub.Type),
			XMLUrl: sub.URL,
		}
		if sub.IsPlaylist {
			playlists = append(playlists, outline)
		} else {
			channels = append(channels, outline)
		}
	}

	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       "videodl Subscriptions",
			DateCreated: time.Now().Format(time.RFC1123),
		},
	}
	if len(channels) > 0 {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{Text: groupChannels, Outlines: channels})
	}
	if len(playlists) > 0 {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{Text: groupPlaylists, Outlines: playlists})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write OPML header: %w", err)
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to generate OPML: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return nil
}
