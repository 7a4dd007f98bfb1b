package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gotransit/internal/display"
	"gotransit/internal/planner"
	"gotransit/internal/realtime"
	"gotransit/internal/templates"
)

// MsgInvalidDate is shown for a date that is not YYYY-MM-DD.
const MsgInvalidDate = "Please enter a valid date."

// findRequest is the query string of a route search.
type findRequest struct {
	From   string `validate:"required_without=FromID"`
	FromID string
	To     string `validate:"required_without=ToID"`
	ToID   string
	Date   string `validate:"omitempty,datetime=2006-01-02"`
	Time   string `validate:"omitempty,datetime=15:04|datetime=15:04:05"`
}

func parseFindRequest(r *http.Request) findRequest {
	q := r.URL.Query()
	return findRequest{
		From:   strings.TrimSpace(q.Get("from")),
		FromID: strings.TrimSpace(q.Get("fromId")),
		To:     strings.TrimSpace(q.Get("to")),
		ToID:   strings.TrimSpace(q.Get("toId")),
		Date:   strings.TrimSpace(q.Get("date")),
		Time:   strings.TrimSpace(q.Get("time")),
	}
}

// query validates req and turns it into a planner query. On failure it
// returns the user-facing message.
func (h *Handler) query(r *http.Request, req findRequest) (planner.Query, string) {
	if err := h.validate.Struct(req); err != nil {
		return planner.Query{}, validationMessage(err)
	}

	today := h.today()
	date := today
	if req.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", req.Date, h.loc)
		if err != nil {
			return planner.Query{}, MsgInvalidDate
		}
		date = d
	}
	if !display.InRange(date, today) {
		return planner.Query{}, display.MsgDateOutOfRange
	}

	clock := h.now().In(h.loc).Format("15:04:05")
	if req.Time != "" {
		clock = req.Time
		if len(clock) == len("15:04") {
			clock += ":00"
		}
	}

	return planner.Query{
		From:          planner.StopRef{ID: req.FromID, Name: req.From},
		To:            planner.StopRef{ID: req.ToID, Name: req.To},
		ReferenceTime: clock,
		ReferenceDate: date,
		UserID:        UserID(r.Context()),
	}, ""
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return planner.MsgMissingLocation
	}
	switch verrs[0].Field() {
	case "Date":
		return MsgInvalidDate
	case "Time":
		return planner.MsgInvalidTime
	default:
		return planner.MsgMissingLocation
	}
}

// FindRouteAPI serves GET /api/find/route as the JSON envelope.
func (h *Handler) FindRouteAPI(w http.ResponseWriter, r *http.Request) {
	q, msg := h.query(r, parseFindRequest(r))
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, planner.Result{
			Routes: []planner.RouteResult{},
			Error:  msg,
			Date:   h.today().Format(planner.DateLayout),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.Service.FindRoutes(r.Context(), q))
}

// FindRoute serves GET /find/route as the HTML results page.
func (h *Handler) FindRoute(w http.ResponseWriter, r *http.Request) {
	req := parseFindRequest(r)
	today := h.today()
	first, last := display.DateRange(today)

	data := templates.ResultsData{
		Page: h.page(r, "Results"),
		Form: templates.SearchForm{
			From:    firstNonEmpty(req.From, req.FromID),
			To:      firstNonEmpty(req.To, req.ToID),
			Date:    req.Date,
			Time:    req.Time,
			MinDate: first.Format("2006-01-02"),
			MaxDate: last.Format("2006-01-02"),
		},
	}

	q, msg := h.query(r, req)
	if msg != "" {
		data.Error = msg
		h.render(w, r, http.StatusBadRequest, templates.ResultsPage(data))
		return
	}
	if data.Form.Date == "" {
		data.Form.Date = q.ReferenceDate.Format("2006-01-02")
	}
	if data.Form.Time == "" {
		data.Form.Time = q.ReferenceTime[:5]
	}

	res := h.Service.FindRoutes(r.Context(), q)
	data.DateLabel = display.DateLabel(q.ReferenceDate, today)
	data.Error = res.Error
	data.Trips = display.Trips(res, q.ReferenceTime, q.ReferenceDate, today)
	data.Alerts = h.alertsFor(res)

	h.render(w, r, http.StatusOK, templates.ResultsPage(data))
}

// alertsFor returns the active alerts naming any route in res.
func (h *Handler) alertsFor(res planner.Result) []templates.AlertDisplay {
	if h.Alerts == nil || len(res.Routes) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var routes []string
	for _, rr := range res.Routes {
		if !seen[rr.RouteName] {
			seen[rr.RouteName] = true
			routes = append(routes, rr.RouteName)
		}
	}

	var out []templates.AlertDisplay
	for _, a := range h.Alerts.ForRoutes(routes, h.now()) {
		out = append(out, templates.AlertDisplay{
			Effect: realtime.EffectLabel(a.Effect),
			Header: a.Header,
			Desc:   a.Desc,
		})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
