// Package opml imports and exports sources as an OPML link list.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/robertmeta/saveit/model"
)

// linkType marks outlines that carry a source.
const linkType = "link"

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

// Outline is either a source link or a folder of outlines.
type Outline struct {
	Text      string    `xml:"text,attr,omitempty"`
	Title     string    `xml:"title,attr,omitempty"`
	Type      string    `xml:"type,attr,omitempty"`
	URL       string    `xml:"url,attr,omitempty"`
	HTMLUrl   string    `xml:"htmlUrl,attr,omitempty"`
	Author    string    `xml:"author,attr,omitempty"`
	Published string    `xml:"published,attr,omitempty"`
	Viewed    string    `xml:"viewed,attr,omitempty"`
	Comment   string    `xml:"comment,attr,omitempty"`
	Outlines  []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and returns unsaved sources, depth first.
// Outlines without a url (or htmlUrl) are treated as folders.
func Parse(r io.Reader) ([]model.Source, error) {
	var doc OPML
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	sources := []model.Source{}
	if err := collect(doc.Body.Outlines, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

func collect(outlines []Outline, out *[]model.Source) error {
	for _, o := range outlines {
		url := strings.TrimSpace(o.URL)
		if url == "" {
			url = strings.TrimSpace(o.HTMLUrl)
		}
		if url != "" {
			src, err := toSource(o, url)
			if err != nil {
				return err
			}
			*out = append(*out, src)
		}
		if len(o.Outlines) > 0 {
			if err := collect(o.Outlines, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func toSource(o Outline, url string) (model.Source, error) {
	src := model.NewSource()
	src.URL = url
	src.Title = o.Title
	if src.Title == "" {
		src.Title = o.Text
	}
	src.Author = o.Author
	src.Comment = o.Comment

	if o.Viewed != "" {
		viewed, err := model.ParseDate(o.Viewed)
		if err != nil {
			return model.Source{}, fmt.Errorf("outline %q: viewed: %w", url, err)
		}
		src.ViewedDate = viewed
	}

	if o.Published == "" {
		src.PublishedDate = src.ViewedDate
		src.PublishedDateUnknown = true
	} else {
		published, err := model.ParseDate(o.Published)
		if err != nil {
			return model.Source{}, fmt.Errorf("outline %q: published: %w", url, err)
		}
		src.PublishedDate = published
	}
	return src, nil
}

// Generate writes sources as a flat OPML link list.
func Generate(w io.Writer, sources []model.Source) error {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       "saveit sources",
			DateCreated: time.Now().Format(time.RFC1123),
		},
		Body: Body{
			Outlines: make([]Outline, 0, len(sources)),
		},
	}

	for _, src := range sources {
		o := Outline{
			Type:    linkType,
			Text:    src.Title,
			Title:   src.Title,
			URL:     src.URL,
			Author:  src.Author,
			Viewed:  model.FormatDate(src.ViewedDate),
			Comment: src.Comment,
		}
		if !src.PublishedDateUnknown {
			o.Published = model.FormatDate(src.PublishedDate)
		}
		doc.Body.Outlines = append(doc.Body.Outlines, o)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}

	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("failed to write final newline: %w", err)
	}
	return nil
}
