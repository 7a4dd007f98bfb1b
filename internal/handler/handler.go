package handler

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/a-h/templ"
	"github.com/go-playground/validator/v10"

	"gotransit/internal/cache"
	"gotransit/internal/config"
	"gotransit/internal/planner"
	"gotransit/internal/realtime"
	"gotransit/internal/storage"
	"gotransit/internal/templates"
)

// ShapeSource looks up trip geometry.
type ShapeSource interface {
	ShapeForTrip(ctx context.Context, tripID string) (string, [][]float64, error)
}

// Deps are the collaborators a Handler serves from. Alerts and Schedule may be nil.
type Deps struct {
	Service  *planner.Service
	Users    *storage.DB
	Shapes   ShapeSource
	Cache    *cache.Cache
	Schedule *planner.CachedSource
	Alerts   *realtime.Store
	Static   fs.FS
}

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	Deps
	cfg          *config.Config
	loc          *time.Location
	logger       *slog.Logger
	validate     *validator.Validate
	now          func() time.Time
	version      string // content hash of static assets, for cache busting
	cookieSecret []byte // HMAC key for signing session cookies
}

// New creates a Handler.
func New(deps Deps, cfg *config.Config, logger *slog.Logger) (*Handler, error) {
	v := "dev"
	if deps.Static != nil {
		v = computeAssetVersion(deps.Static)
	}
	logger.Info("asset version computed", "version", v)

	secret := []byte(cfg.CookieSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
		logger.Warn("no GOTRANSIT_COOKIE_SECRET set, sessions will not survive a restart")
	}

	return &Handler{
		Deps:         deps,
		cfg:          cfg,
		loc:          cfg.Location(),
		logger:       logger,
		validate:     validator.New(),
		now:          time.Now,
		version:      v,
		cookieSecret: secret,
	}, nil
}

// computeAssetVersion hashes the CSS and JS files in fsys into a short
// version string. Changes to any file produce a new version.
func computeAssetVersion(fsys fs.FS) string {
	h := md5.New()
	var paths []string
	fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ext := path.Ext(p); ext == ".css" || ext == ".js" {
			paths = append(paths, p)
		}
		return nil
	})
	sort.Strings(paths)
	for _, p := range paths {
		f, err := fsys.Open(p)
		if err != nil {
			continue
		}
		io.Copy(h, f)
		f.Close()
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:8]
}

// page creates a templates.Page with the asset version pre-filled.
func (h *Handler) page(r *http.Request, title string) templates.Page {
	return templates.Page{
		Title:        title,
		CurrentPath:  r.URL.Path,
		AssetVersion: h.version,
		SignedIn:     UserID(r.Context()) != 0,
	}
}

// today returns midnight of the current date in the agency timezone.
func (h *Handler) today() time.Time {
	n := h.now().In(h.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, h.loc)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := c.Render(r.Context(), w); err != nil {
		h.logger.Error("rendering page", "path", r.URL.Path, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type userKey struct{}

// WithUserID returns a context carrying the signed-in user's ID.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID returns the signed-in user's ID, or 0.
func UserID(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey{}).(int64)
	return id
}
