// Package feed turns RSS/Atom feed items into source drafts.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/robertmeta/saveit/model"
)

// maxCommentLen caps the description copied into a draft's comment.
const maxCommentLen = 280

// Fetcher handles fetching and parsing RSS/Atom feeds.
type Fetcher struct {
	parser *gofeed.Parser
	// now returns the viewed date for imported drafts.
	now func() time.Time
}

// NewFetcher creates a new Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		parser: gofeed.NewParser(),
		now:    model.Today,
	}
}

// Fetch retrieves a feed from a URL and converts its items.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]model.Source, error) {
	parsedFeed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed from %s: %w", url, err)
	}
	return f.convert(parsedFeed), nil
}

// Parse parses feed content from a string.
func (f *Fetcher) Parse(content string) ([]model.Source, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("feed content is empty")
	}

	parsedFeed, err := f.parser.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return f.convert(parsedFeed), nil
}

// convert turns every item with a link into an unsaved source.
func (f *Fetcher) convert(gf *gofeed.Feed) []model.Source {
	sources := []model.Source{}
	for _, item := range gf.Items {
		if strings.TrimSpace(item.Link) == "" {
			continue
		}
		sources = append(sources, f.convertItem(gf, item))
	}
	return sources
}

func (f *Fetcher) convertItem(gf *gofeed.Feed, item *gofeed.Item) model.Source {
	src := model.NewSource()
	src.Title = strings.TrimSpace(item.Title)
	src.URL = strings.TrimSpace(item.Link)
	src.ViewedDate = f.now()
	src.Author = authorName(item.Authors)
	if src.Author == "" {
		// Fall back to the feed-level author.
		src.Author = authorName(gf.Authors)
	}

	switch {
	case item.PublishedParsed != nil:
		src.PublishedDate = model.TruncateDate(*item.PublishedParsed)
	case item.UpdatedParsed != nil:
		src.PublishedDate = model.TruncateDate(*item.UpdatedParsed)
	default:
		src.PublishedDate = src.ViewedDate
		src.PublishedDateUnknown = true
	}

	src.Comment = summarize(item.Description)
	return src
}

func authorName(people []*gofeed.Person) string {
	for _, p := range people {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			return strings.TrimSpace(p.Name)
		}
	}
	return ""
}

// summarize collapses whitespace and truncates on a rune boundary.
func summarize(desc string) string {
	s := strings.Join(strings.Fields(desc), " ")
	r := []rune(s)
	if len(r) <= maxCommentLen {
		return s
	}
	return string(r[:maxCommentLen-1]) + "…"
}
