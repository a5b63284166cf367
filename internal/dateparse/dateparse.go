package dateparse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"evcal/internal/model"
)

var ErrUnrecognized = errors.New("unrecognized date")

// Layouts tried before falling back to natural language. Civil layouts
// carry no offset and name a wall-clock day; zoned layouts are converted
// into the parser's location first. The last one is what browsers print
// for Date.prototype.toString, which older clients send as drop-target
// keys.
var (
	civilLayouts = []string{
		model.DateKeyLayout,
		"2006-01-02T15:04",
		"Mon Jan 02 2006",
	}
	zonedLayouts = []string{
		time.RFC3339Nano,
		"Mon Jan 02 2006 15:04:05 GMT-0700",
	}
)

// Parser turns user-supplied text into a calendar day.
type Parser struct {
	w   *when.Parser
	loc *time.Location
}

// New returns a Parser resolving dates in loc (time.Local when nil).
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w, loc: loc}
}

// Parse returns midnight of the day described by s. Structured layouts
// win; anything else goes through the natural-language rules relative to
// now ("tomorrow", "next friday", "in 3 days").
func (p *Parser) Parse(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnrecognized)
	}

	for _, layout := range civilLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return model.Midnight(y, m, d, p.loc), nil
		}
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.StartOfDay(t.In(p.loc)), nil
		}
	}
	// Date.toString appends a zone name in parentheses.
	if i := strings.Index(s, " ("); i > 0 {
		if t, err := time.Parse("Mon Jan 02 2006 15:04:05 GMT-0700", s[:i]); err == nil {
			return model.StartOfDay(t.In(p.loc)), nil
		}
	}

	res, err := p.w.Parse(s, now.In(p.loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnrecognized, s, err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, s)
	}
	return model.StartOfDay(res.Time.In(p.loc)), nil
}
