package handler

import (
	"net/http"
	"strings"

	"gotransit/internal/display"
	"gotransit/internal/planner"
	"gotransit/internal/templates"
)

// Home serves the search page, with recent routes for signed-in users.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	today := h.today()
	first, last := display.DateRange(today)
	data := templates.HomeData{
		Page: h.page(r, ""),
		Form: templates.SearchForm{
			Date:    today.Format("2006-01-02"),
			Time:    h.now().In(h.loc).Format("15:04"),
			MinDate: first.Format("2006-01-02"),
			MaxDate: last.Format("2006-01-02"),
		},
	}

	if id := UserID(r.Context()); id != 0 {
		labels, err := h.Service.RecentRoutes(r.Context(), id)
		if err != nil {
			h.logger.Warn("loading recent routes", "user", id, "error", err)
		}
		data.Recent = recentLinks(labels)
	}

	h.render(w, r, http.StatusOK, templates.HomePage(data))
}

// recentLinks splits "from → to" labels back into link endpoints.
func recentLinks(labels []string) []templates.RecentRoute {
	sep := planner.RecentRouteLabel("", "")
	var out []templates.RecentRoute
	for _, l := range labels {
		from, to, ok := strings.Cut(l, sep)
		if !ok || from == "" || to == "" {
			continue
		}
		out = append(out, templates.RecentRoute{Label: l, From: from, To: to})
	}
	return out
}
