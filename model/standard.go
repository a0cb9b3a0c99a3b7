package model

import (
	"fmt"
	"strings"
)

// FormatStandard selects the rule used to render a source as citation text.
type FormatStandard string

const (
	StandardDefault FormatStandard = "default"
	StandardCustom  FormatStandard = "custom"
	// IEEE and APA are accepted in config but have no rendering rule yet.
	StandardIEEE FormatStandard = "ieee"
	StandardAPA  FormatStandard = "apa"
)

// Standards lists every known standard in display order.
var Standards = []FormatStandard{StandardDefault, StandardCustom, StandardIEEE, StandardAPA}

// ParseFormatStandard converts a name like "Custom" into a FormatStandard.
func ParseFormatStandard(s string) (FormatStandard, error) {
	name := FormatStandard(strings.ToLower(strings.TrimSpace(s)))
	for _, std := range Standards {
		if std == name {
			return std, nil
		}
	}
	return "", fmt.Errorf("unknown format standard %q (expected default, custom, ieee or apa)", s)
}

// Supported reports whether the formatter has a rendering rule for the standard.
func (f FormatStandard) Supported() bool {
	return f == StandardDefault || f == StandardCustom
}

func (f FormatStandard) String() string {
	return string(f)
}
