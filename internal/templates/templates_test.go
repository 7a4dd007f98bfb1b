package templates

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotransit/internal/display"
)

func renderString(t *testing.T, fn func(*bytes.Buffer) error) string {
	t.Helper()
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String()
}

func TestHomePage(t *testing.T) {
	d := HomeData{
		Page: Page{Title: "Plan", AssetVersion: "abc123"},
		Form: SearchForm{From: `A "quoted" stop`, MinDate: "2025-06-18", MaxDate: "2025-12-18"},
		Recent: []RecentRoute{
			{Label: "Central → Airport", From: "Central", To: "Airport"},
		},
	}
	out := renderString(t, func(b *bytes.Buffer) error { return HomePage(d).Render(context.Background(), b) })

	for _, want := range []string{
		`main.css?v=abc123`,
		`value="A &#34;quoted&#34; stop"`,
		`min="2025-06-18"`,
		`max="2025-12-18"`,
		`href="/find/route?from=Central&amp;to=Airport"`,
		`Central → Airport`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("home page missing %q", want)
		}
	}
}

func TestResultsPage(t *testing.T) {
	d := ResultsData{
		Form:      SearchForm{From: "Central", To: "Airport"},
		DateLabel: "Tomorrow",
		Trips: []display.Trip{{
			TripID: "T1", RouteName: "Blue", TripName: "To Airport",
			FromStopName: "Central", ToStopName: "Airport",
			Departure: "8:00 AM", Arrival: "8:25 AM", Duration: "25 min", DayBadge: "Next day",
		}},
		Alerts: []AlertDisplay{{Effect: "Detour", Header: "<b>Main closed</b>"}},
	}
	out := renderString(t, func(b *bytes.Buffer) error { return ResultsPage(d).Render(context.Background(), b) })

	for _, want := range []string{"Tomorrow", "8:00 AM", "25 min", "Next day", `data-trip-id="T1"`, "&lt;b&gt;Main closed&lt;/b&gt;"} {
		if !strings.Contains(out, want) {
			t.Errorf("results page missing %q", want)
		}
	}
	if strings.Contains(out, `class="wait"`) {
		t.Error("wait should be omitted when empty")
	}
}

func TestResultsPage_Error(t *testing.T) {
	d := ResultsData{Form: SearchForm{From: "A", To: "B"}, Error: "No direct routes found in the next 24 hours"}
	out := renderString(t, func(b *bytes.Buffer) error { return ResultsPage(d).Render(context.Background(), b) })
	if !strings.Contains(out, "No direct routes found") {
		t.Error("error message not rendered")
	}
	if strings.Contains(out, `<ol class="trips">`) {
		t.Error("empty trip list should not render")
	}
}

func TestAuthPage(t *testing.T) {
	login := renderString(t, func(b *bytes.Buffer) error {
		return AuthPage(AuthData{IsLogin: true, Username: "rider"}).Render(context.Background(), b)
	})
	if !strings.Contains(login, `action="/login"`) || strings.Contains(login, `name="website"`) {
		t.Error("login form should post to /login without the honeypot")
	}

	reg := renderString(t, func(b *bytes.Buffer) error {
		return AuthPage(AuthData{TimeGate: "123.sig", Error: "taken"}).Render(context.Background(), b)
	})
	for _, want := range []string{`action="/register"`, `name="website"`, `value="123.sig"`, "taken"} {
		if !strings.Contains(reg, want) {
			t.Errorf("register page missing %q", want)
		}
	}
}

func TestLayout_SignedIn(t *testing.T) {
	out := renderString(t, func(b *bytes.Buffer) error {
		return HomePage(HomeData{Page: Page{SignedIn: true}}).Render(context.Background(), b)
	})
	if !strings.Contains(out, `action="/logout"`) {
		t.Error("signed-in layout should offer sign out")
	}
	if strings.Contains(out, `href="/login"`) {
		t.Error("signed-in layout should not link to sign in")
	}
}

func TestLayout_CurrentNavLink(t *testing.T) {
	out := renderString(t, func(b *bytes.Buffer) error {
		return AuthPage(AuthData{Page: Page{CurrentPath: "/register"}}).Render(context.Background(), b)
	})
	if !strings.Contains(out, `<a href="/register" aria-current="page">Register</a>`) {
		t.Error("current page link should carry aria-current")
	}
	if !strings.Contains(out, `<a href="/login">Sign in</a>`) {
		t.Error("other nav links should be plain")
	}
	if !strings.Contains(out, `autocomplete="new-password"`) {
		t.Error("registration should ask for a new password")
	}
}

func TestLoadingPage(t *testing.T) {
	out := renderString(t, func(b *bytes.Buffer) error { return LoadingPage().Render(context.Background(), b) })
	for _, want := range []string{`http-equiv="refresh" content="5"`, "Loading the schedule", `font-family: -apple-system`} {
		if !strings.Contains(out, want) {
			t.Errorf("loading page missing %q", want)
		}
	}
}

func TestRender_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := HomePage(HomeData{}).Render(ctx, &buf); err == nil {
		t.Error("expected an error rendering with a canceled context")
	}
}

// Every page is authored as a .templ file with its generated Go next to it.
func TestTemplSourcesHaveGeneratedCode(t *testing.T) {
	sources, err := filepath.Glob("*.templ")
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) == 0 {
		t.Fatal("no .templ sources found")
	}
	for _, src := range sources {
		gen := strings.TrimSuffix(src, ".templ") + "_templ.go"
		data, err := os.ReadFile(gen)
		if err != nil {
			t.Errorf("%s: missing generated file %s", src, gen)
			continue
		}
		if !strings.HasPrefix(string(data), "// Code generated by templ - DO NOT EDIT.") {
			t.Errorf("%s: not templ output", gen)
		}
	}
}
