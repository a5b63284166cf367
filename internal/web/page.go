package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"evcal/internal/calendar"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/calendar.html"))

type pageCell struct {
	calendar.DayView
	Selected bool
}

type pageData struct {
	calendar.ViewState
	Weeks [][]pageCell
}

func newPageData(vs calendar.ViewState) pageData {
	pd := pageData{ViewState: vs, Weeks: make([][]pageCell, 0, len(vs.Weeks))}
	for _, row := range vs.Weeks {
		cells := make([]pageCell, 0, len(row))
		for _, d := range row {
			cells = append(cells, pageCell{
				DayView:  d,
				Selected: vs.Selected != nil && model.SameDay(*vs.Selected, d.Date),
			})
		}
		pd.Weeks = append(pd.Weeks, cells)
	}
	return pd
}

// handleCalendarPage renders the current grid server-side. The root element
// carries data-ready="true" so headless capture knows when to shoot.
func (s *Server) handleCalendarPage(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	vs := s.ctrl.View()
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, newPageData(vs)); err != nil {
		appLog.Error("calendar page render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
