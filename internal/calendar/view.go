package calendar

import (
	"time"

	"evcal/internal/grid"
	"evcal/internal/model"
)

// DayView is one rendered grid cell.
type DayView struct {
	Date           time.Time     `json:"date"`
	Key            string        `json:"key"`
	IsCurrentMonth bool          `json:"is_current_month"`
	IsToday        bool          `json:"is_today"`
	Events         []model.Event `json:"events"`
}

// ViewState is everything the rendering layer needs for one frame.
type ViewState struct {
	Reference      time.Time      `json:"reference"`
	Mode           model.ViewMode `json:"mode"`
	Heading        string         `json:"heading"`
	Headers        []string       `json:"headers"`
	Weeks          [][]DayView    `json:"weeks"`
	Selected       *time.Time     `json:"selected,omitempty"`
	SelectedEvents []model.Event  `json:"selected_events,omitempty"`
	Search         string         `json:"search"`
	Warning        string         `json:"warning,omitempty"`
}

// View assembles the current grid with the search filter applied to each
// cell. The selected day's list is unfiltered.
func (c *Controller) View() ViewState {
	today := c.today()
	cells := grid.Build(c.ref, c.mode, c.weekStart)

	weeks := make([][]DayView, 0, (len(cells)+6)/7)
	for _, row := range grid.Weeks(cells) {
		days := make([]DayView, 0, len(row))
		for _, cell := range row {
			days = append(days, DayView{
				Date:           cell.Date,
				Key:            cell.Date.Format(model.DateKeyLayout),
				IsCurrentMonth: cell.IsCurrentMonth,
				IsToday:        model.SameDay(today, cell.Date),
				Events:         c.VisibleEvents(cell.Date, c.search),
			})
		}
		weeks = append(weeks, days)
	}

	vs := ViewState{
		Reference: c.ref,
		Mode:      c.mode,
		Heading:   c.ref.Format("January 2006"),
		Headers:   grid.Headers(c.weekStart),
		Weeks:     weeks,
		Search:    c.search,
		Warning:   c.warning,
	}
	if sel, ok := c.Selected(); ok {
		vs.Selected = &sel
		vs.SelectedEvents = c.DayEvents(sel)
	}
	return vs
}
