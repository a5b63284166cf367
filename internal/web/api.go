package web

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"evcal/internal/calendar"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

// importWindowDays bounds RRULE expansion on import, counted both ways from
// today.
const importWindowDays = 366

type dateRequest struct {
	Date string `json:"date"`
}

type navigateRequest struct {
	Direction string `json:"direction"`
}

type createRequest struct {
	Title       string                `json:"title"`
	Time        string                `json:"time"`
	Description string                `json:"description"`
	Date        string                `json:"date"`
	Recurrence  *model.RecurrenceRule `json:"recurrence,omitempty"`
}

type createResponse struct {
	Events  []model.Event `json:"events"`
	Warning string        `json:"warning,omitempty"`
}

type importRequest struct {
	URL string `json:"url"`
}

type importResponse struct {
	Added     int    `json:"added"`
	FromCache bool   `json:"from_cache,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// GET /api/view?q=
//   - q, when present, replaces the search filter (empty clears it).
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := r.URL.Query()["q"]; ok && len(q) > 0 {
		s.ctrl.SetSearch(q[0])
	}
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var dir calendar.Direction
	switch strings.ToLower(req.Direction) {
	case "next":
		dir = calendar.Next
	case "prev", "previous":
		dir = calendar.Prev
	default:
		writeError(w, http.StatusBadRequest, "direction must be next or prev")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.Navigate(dir)
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.ToggleView()
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

// POST /api/goto {"date": "..."}; an empty date jumps to today.
func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(req.Date) == "" {
		s.ctrl.Today()
		writeJSON(w, http.StatusOK, s.ctrl.View())
		return
	}
	d, err := s.parser.Parse(req.Date, s.now())
	if err != nil {
		writeCalendarError(w, err, "")
		return
	}
	s.ctrl.GoTo(d)
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) handleOpenDay(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.parser.Parse(req.Date, s.now())
	if err != nil {
		writeCalendarError(w, err, "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.OpenDay(d)
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) handleCloseDay(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.CloseDay()
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

// GET /api/events?date=&q=
//   - date: limit to one day (search applies only with a date)
//   - without date every stored event is returned in store order
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	if q.Get("date") == "" {
		writeJSON(w, http.StatusOK, s.ctrl.Events())
		return
	}
	d, err := s.parser.Parse(q.Get("date"), s.now())
	if err != nil {
		writeCalendarError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.VisibleEvents(d, q.Get("q")))
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := model.Event{
		Title:       req.Title,
		Time:        req.Time,
		Description: req.Description,
	}
	if strings.TrimSpace(req.Date) != "" {
		d, err := s.parser.Parse(req.Date, s.now())
		if err != nil {
			writeCalendarError(w, err, "")
			return
		}
		ev.Date = d
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.ctrl.SaveEvent(r.Context(), ev, req.Recurrence)
	if err != nil {
		writeCalendarError(w, err, s.ctrl.Warning())
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Events: res.Events, Warning: res.Warning})
}

func (s *Server) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	var f calendar.EventFields
	if err := decodeJSON(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.ctrl.EditEvent(r.Context(), r.PathValue("id"), f)
	if err != nil {
		writeCalendarError(w, err, s.ctrl.Warning())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctrl.DeleteEvent(r.Context(), r.PathValue("id")); err != nil {
		writeCalendarError(w, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/events/{id}/move {"date": "..."}
//   - an empty date is a drop outside any cell and changes nothing (204)
func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	d, err := s.parser.Parse(req.Date, s.now())
	if err != nil {
		writeCalendarError(w, err, "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.ctrl.MoveEvent(r.Context(), r.PathValue("id"), d)
	if err != nil {
		writeCalendarError(w, err, s.ctrl.Warning())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGoogleLink(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ev, ok := s.ctrl.Event(r.PathValue("id"))
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, calendar.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": ics.GoogleCalendarURL(ev)})
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	events := s.ctrl.Events()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="evcal.ics"`)
	_, _ = w.Write([]byte(ics.Export(events, "evcal", s.now())))
}

// POST /api/import
//   - Content-Type application/json: {"url": "..."} fetched via the cache
//   - anything else: the body is the ICS payload
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var (
		body      []byte
		fromCache bool
		source    = "upload"
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req importRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		var err error
		body, fromCache, err = s.fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			appLog.Error("import: fetch failed", err)
			writeError(w, http.StatusBadGateway, "failed to fetch calendar")
			return
		}
		source = "url"
	} else {
		var err error
		body, err = readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	loc := s.ctrl.Location()
	today := model.StartOfDay(s.now().In(loc))
	events, err := ics.Decode(source, body, ics.ExpandConfig{
		Location:   loc,
		RangeStart: model.AddDays(today, -importWindowDays),
		RangeEnd:   model.AddDays(today, importWindowDays),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.ctrl.Import(r.Context(), events)
	if err != nil {
		writeCalendarError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Added: added, FromCache: fromCache, Warning: s.ctrl.Warning()})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	return body, nil
}
