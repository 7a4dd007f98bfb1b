// Package templates renders the HTML pages as templ components.
//
// Page markup lives in the .templ files; run `templ generate` after
// editing them to refresh the matching _templ.go files.
package templates

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate

import (
	"net/url"

	"gotransit/internal/display"
)

// Page carries the fields every page layout needs.
type Page struct {
	Title        string
	CurrentPath  string
	AssetVersion string
	SignedIn     bool
}

// SearchForm holds the values shown in the search form.
type SearchForm struct {
	From    string
	To      string
	Date    string // YYYY-MM-DD
	Time    string // HH:MM
	MinDate string
	MaxDate string
}

// RecentRoute is a one-click link to a previous search.
type RecentRoute struct {
	Label string
	From  string
	To    string
}

type HomeData struct {
	Page
	Form   SearchForm
	Recent []RecentRoute
}

// AlertDisplay is a service alert shown above the results.
type AlertDisplay struct {
	Effect string
	Header string
	Desc   string
}

type ResultsData struct {
	Page
	Form      SearchForm
	DateLabel string
	Error     string
	Trips     []display.Trip
	Alerts    []AlertDisplay
}

type AuthData struct {
	Page
	IsLogin  bool
	Error    string
	Username string
	TimeGate string // signed timestamp, registration only
}

// authForm returns the form action, heading and button label.
func (d AuthData) authForm() (action, title, button string) {
	if d.IsLogin {
		return "/login", "Sign in", "Sign in"
	}
	return "/register", "Create an account", "Register"
}

func (d AuthData) passwordAutocomplete() string {
	if d.IsLogin {
		return "current-password"
	}
	return "new-password"
}

// findURL builds a results link for a search.
func findURL(from, to, date, clock string) string {
	v := url.Values{}
	v.Set("from", from)
	v.Set("to", to)
	if date != "" {
		v.Set("date", date)
	}
	if clock != "" {
		v.Set("time", clock)
	}
	return "/find/route?" + v.Encode()
}
