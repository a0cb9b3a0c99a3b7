// Package format renders sources as citation text.
//
// Format is a pure function of its arguments: the active standard, custom
// template and default date patterns all arrive through Options.
package format

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/robertmeta/saveit/model"
)

const (
	// UnknownAuthor replaces an empty author in every rendering.
	UnknownAuthor = "Unknown"
	// UnknownDate replaces a published date marked as unknown in custom templates.
	UnknownDate = "n.d."

	DefaultPublishedDateFormat = "%Y"
	DefaultViewedDateFormat    = "%d.%m.%Y"
)

var (
	// ErrUnsupportedStandard is returned for standards without a rendering rule.
	ErrUnsupportedStandard = errors.New("unsupported format standard")
	// ErrEmptyTemplate is returned when the custom standard has no template.
	ErrEmptyTemplate = errors.New("custom template is empty")
)

// Error describes why a source could not be rendered.
type Error struct {
	Standard model.FormatStandard
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("format %q: %v", e.Standard, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options selects and parameterizes the rendering rule.
type Options struct {
	Standard model.FormatStandard
	// Template is used by the custom standard only.
	Template string
	// PublishedDateFormat is the strftime pattern for {P_DATE} and {P_DATE()}.
	PublishedDateFormat string
	// ViewedDateFormat is the strftime pattern for {V_DATE} and {V_DATE()}.
	ViewedDateFormat string
}

func (o Options) withDefaults() Options {
	if o.PublishedDateFormat == "" {
		o.PublishedDateFormat = DefaultPublishedDateFormat
	}
	if o.ViewedDateFormat == "" {
		o.ViewedDateFormat = DefaultViewedDateFormat
	}
	return o
}

// Format renders src according to opts.
func Format(src model.Source, opts Options) (string, error) {
	opts = opts.withDefaults()

	switch opts.Standard {
	case model.StandardDefault:
		return formatDefault(src), nil
	case model.StandardCustom:
		if opts.Template == "" {
			return "", &Error{Standard: opts.Standard, Err: ErrEmptyTemplate}
		}
		return formatCustom(src, opts), nil
	default:
		return "", &Error{Standard: opts.Standard, Err: ErrUnsupportedStandard}
	}
}

// FormatAll renders every source, one per line. Nothing is returned if any
// source fails.
func FormatAll(sources []model.Source, opts Options) (string, error) {
	lines := make([]string, 0, len(sources))
	for _, src := range sources {
		line, err := Format(src, opts)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// formatDefault produces "[id] author (year): title URL: url [as of dd.mm.yyyy]".
func formatDefault(src model.Source) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%d] %s", src.ID, author(src))
	if !src.PublishedDateUnknown {
		fmt.Fprintf(&b, " (%04d)", src.PublishedDate.Year())
	}
	fmt.Fprintf(&b, ": %s URL: %s [as of %s]",
		src.Title, src.URL, strftime.Format(DefaultViewedDateFormat, src.ViewedDate))

	return b.String()
}

func author(src model.Source) string {
	if src.AuthorUnknown() {
		return UnknownAuthor
	}
	return src.Author
}

// dateToken matches {P_DATE(<fmt>)} and {V_DATE(<fmt>)}.
var dateToken = regexp.MustCompile(`\{(P_DATE|V_DATE)\(([^)]*)\)\}`)

// formatCustom resolves parenthesized date tokens first, then plain tokens in
// the remaining template text. Substituted values are never rescanned.
func formatCustom(src model.Source, opts Options) string {
	plain := strings.NewReplacer(
		"{INDEX}", strconv.FormatInt(src.ID, 10),
		"{TITLE}", src.Title,
		"{URL}", src.URL,
		"{AUTHOR}", author(src),
		"{COMMENT}", src.Comment,
		"{P_DATE}", publishedDate(src, opts.PublishedDateFormat),
		"{V_DATE}", renderDate(src.ViewedDate, opts.ViewedDateFormat),
	)

	tmpl := opts.Template
	var b strings.Builder
	last := 0
	for _, m := range dateToken.FindAllStringSubmatchIndex(tmpl, -1) {
		b.WriteString(plain.Replace(tmpl[last:m[0]]))

		name, pattern := tmpl[m[2]:m[3]], tmpl[m[4]:m[5]]
		if name == "P_DATE" {
			if pattern == "" {
				pattern = opts.PublishedDateFormat
			}
			b.WriteString(publishedDate(src, pattern))
		} else {
			if pattern == "" {
				pattern = opts.ViewedDateFormat
			}
			b.WriteString(renderDate(src.ViewedDate, pattern))
		}
		last = m[1]
	}
	b.WriteString(plain.Replace(tmpl[last:]))

	return b.String()
}

func publishedDate(src model.Source, pattern string) string {
	if src.PublishedDateUnknown {
		return UnknownDate
	}
	return renderDate(src.PublishedDate, pattern)
}

func renderDate(t time.Time, pattern string) string {
	return strftime.Format(pattern, t)
}
