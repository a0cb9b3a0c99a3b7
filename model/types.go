// Package model defines the core data structures for saveit.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewID marks a source that has not been persisted yet.
const NewID int64 = -1

// DateLayout is the storage and interchange layout for calendar dates.
const DateLayout = "2006-01-02"

// Source represents a single bibliographic entry.
type Source struct {
	ID                   int64     `json:"id"`
	Title                string    `json:"title"`
	URL                  string    `json:"url"`
	Author               string    `json:"author"`
	PublishedDate        time.Time `json:"published_date"`
	PublishedDateUnknown bool      `json:"published_date_unknown"`
	ViewedDate           time.Time `json:"viewed_date"`
	Comment              string    `json:"comment,omitempty"`
}

// NewSource returns an unsaved source with both dates set to today.
func NewSource() Source {
	today := Today()
	return Source{
		ID:            NewID,
		PublishedDate: today,
		ViewedDate:    today,
	}
}

// Validate checks if the source has required fields.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("source URL is required")
	}
	if s.ViewedDate.IsZero() {
		return errors.New("source viewed date is required")
	}
	return nil
}

// IsPersisted reports whether the store has assigned an ID.
func (s *Source) IsPersisted() bool {
	return s.ID >= 0
}

// AuthorUnknown reports whether the author was left empty.
func (s *Source) AuthorUnknown() bool {
	return s.Author == ""
}

// Contains reports whether title, URL or author contain query, ignoring case.
func (s *Source) Contains(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(s.Title), q) ||
		strings.Contains(strings.ToLower(s.URL), q) ||
		strings.Contains(strings.ToLower(s.Author), q)
}

// SameContent compares every field except ID.
func (s Source) SameContent(o Source) bool {
	return s.Title == o.Title &&
		s.URL == o.URL &&
		s.Author == o.Author &&
		s.PublishedDate.Equal(o.PublishedDate) &&
		s.PublishedDateUnknown == o.PublishedDateUnknown &&
		s.ViewedDate.Equal(o.ViewedDate) &&
		s.Comment == o.Comment
}

// Date returns the calendar date as UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns the current local calendar date as UTC midnight.
func Today() time.Time {
	return TruncateDate(time.Now())
}

// TruncateDate drops the clock part of t, keeping t's calendar date.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
