// Package server exposes upload checks and build dependency resolution
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frederic-klein/soyuz/internal/archive"
	"github.com/frederic-klein/soyuz/internal/policy"
	"github.com/frederic-klein/soyuz/internal/resolver"
	"github.com/frederic-klein/soyuz/internal/sourceslist"
	"github.com/frederic-klein/soyuz/internal/store"
	"github.com/frederic-klein/soyuz/internal/upload"
)

// MaxChangesSize bounds the size of a posted changes file.
const MaxChangesSize = 1 << 20

// Builds looks up builds by ID.
type Builds interface {
	BuildByID(ctx context.Context, id string) (archive.Build, error)
}

// SeriesLister lists the series known in a distribution.
type SeriesLister interface {
	Series(ctx context.Context, distribution string) ([]string, error)
}

// Archives looks up archives by reference.
type Archives interface {
	ArchiveByRef(ctx context.Context, ref string) (archive.Archive, error)
}

// TokenChecker validates the archive tokens handed out to builds.
type TokenChecker interface {
	Check(ctx context.Context, build archive.Build, a archive.Archive, token string) bool
}

// Resolver computes the sources.list lines of a build.
type Resolver interface {
	Resolve(ctx context.Context, build archive.Build) ([]sourceslist.Line, error)
}

// Config for the HTTP API handler.
type Config struct {
	Registry  *policy.Registry
	Processor *upload.Processor
	Builds    Builds
	Resolver  Resolver
	// Series, when set, binds uploads naming a distribution to its series.
	Series SeriesLister

	// Archives and Tokens, when both set, enable the private archive
	// authorization endpoint.
	Archives Archives
	Tokens   TokenChecker

	// Defaults fills in policy options the request leaves out.
	Defaults policy.Options
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	Body apiErrorBody `json:"error"`
}

type api struct {
	cfg Config
	log *slog.Logger
}

// New returns an HTTP handler exposing the soyuz API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil || cfg.Processor == nil {
		return nil, fmt.Errorf("server: registry and processor are required")
	}
	if cfg.Builds == nil || cfg.Resolver == nil {
		return nil, fmt.Errorf("server: builds and resolver are required")
	}
	a := &api{cfg: cfg, log: cfg.Logger}
	if a.log == nil {
		a.log = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Route("/v1", func(r chi.Router) {
		r.Post("/uploads/{filename}", a.checkUpload)
		r.Get("/builds/{id}/sources.list", a.sourcesList)
		r.Get("/classify", a.classify)
		if cfg.Archives != nil && cfg.Tokens != nil {
			r.Get("/builds/{id}/auth", a.authorize)
		}
	})
	return router, nil
}

func (a *api) checkUpload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxChangesSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(data) > MaxChangesSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "changes file is too large")
		return
	}

	opts := a.cfg.Defaults
	q := r.URL.Query()
	if v := q.Get("policy"); v != "" {
		opts.Context = v
	}
	if v := q.Get("distribution"); v != "" {
		opts.Distribution = v
		if a.cfg.Series != nil {
			if opts.KnownSeries, err = a.cfg.Series.Series(r.Context(), v); err != nil {
				a.log.Error("listing series", "distribution", v, "error", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				return
			}
		}
	}
	if v := q.Get("series"); v != "" {
		opts.Series = v
	}
	if v := q.Get("pocket"); v != "" {
		p, err := archive.ParsePocket(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		opts.Pocket = p
	}
	if v := q.Get("build_id"); v != "" {
		opts.BuildID = v
	}

	pol, err := a.cfg.Registry.FromOptions(opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_policy", err.Error())
		return
	}

	res, err := a.cfg.Processor.Process(filename, data, pol, nil)
	if err != nil {
		var perr *upload.ParseError
		if errors.As(err, &perr) {
			writeError(w, http.StatusBadRequest, "parse_error", err.Error())
			return
		}
		a.log.Error("processing upload", "changes", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	status := http.StatusOK
	if !res.Accepted() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res.Report())
}

func (a *api) sourcesList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	build, err := a.cfg.Builds.BuildByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		a.log.Error("loading build", "build", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	lines, err := a.cfg.Resolver.Resolve(r.Context(), build)
	if err != nil {
		a.log.Error("resolving dependencies", "build", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := sourceslist.NewEmitter(w, "").Emit(lines); err != nil {
		a.log.Warn("writing sources.list", "build", id, "error", err)
	}
}

// authorize checks the basic auth credentials a build presents to a private
// archive, named by the archive query parameter. It answers 204 when they
// match the issued token and 401 otherwise.
func (a *api) authorize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref := r.URL.Query().Get("archive")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "archive is required")
		return
	}

	build, err := a.cfg.Builds.BuildByID(r.Context(), id)
	if err != nil {
		a.lookupFailed(w, err, "build", id)
		return
	}
	target, err := a.cfg.Archives.ArchiveByRef(r.Context(), ref)
	if err != nil {
		a.lookupFailed(w, err, "archive", ref)
		return
	}

	user, token, ok := r.BasicAuth()
	if !ok || user != resolver.CredentialUser || !a.cfg.Tokens.Check(r.Context(), build, target, token) {
		a.log.Warn("archive authorization failed", "build", id, "archive", ref)
		w.Header().Set("WWW-Authenticate", `Basic realm="`+ref+`"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid archive credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) lookupFailed(w http.ResponseWriter, err error, kind, key string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %s not found", kind, key))
		return
	}
	a.log.Error("loading "+kind, kind, key, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func (a *api) classify(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "filename is required")
		return
	}
	kind := upload.Classify(filename, r.URL.Query().Get("priority"))
	writeJSON(w, http.StatusOK, map[string]string{"filename": filename, "kind": kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Body: apiErrorBody{Code: code, Message: msg}})
}
