package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/eutopia/collabdash/internal/dashboard"
	"github.com/eutopia/collabdash/internal/engine"
)

type errorResponse struct {
	Error string `json:"error"`
}

type pageResponse struct {
	AuthorID string            `json:"author_id,omitempty"`
	FromYear int               `json:"from_year,omitempty"`
	ToYear   int               `json:"to_year,omitempty"`
	Panels   []dashboard.Panel `json:"panels"`
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Stats        *engine.Stats     `json:"stats,omitempty"`
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	id := dashboard.PanelID(r.PathValue("name"))
	if !isFilterPanel(id) {
		writeError(w, http.StatusNotFound, "unknown filter "+strconv.Quote(string(id)))
		return
	}
	panel, err := s.deps.Panels.Load(r.Context(), id, dashboard.Params{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, panel)
}

func (s *Server) handleAuthor(w http.ResponseWriter, r *http.Request) {
	authorID := strings.TrimSpace(r.PathValue("id"))
	if authorID == "" {
		writeError(w, http.StatusBadRequest, dashboard.NoAuthorMessage)
		return
	}
	params := dashboard.Params{AuthorID: authorID}
	panels, err := s.loadPanels(r.Context(), dashboard.AuthorPanels(), params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{AuthorID: authorID, Panels: panels})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	scope, err := s.scopeFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	panels, err := s.loadPanels(r.Context(), dashboard.OverviewPanels(), dashboard.Params{Scope: scope})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{FromYear: scope.FromYear, ToYear: scope.ToYear, Panels: panels})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := dashboard.PanelID(q.Get("panel"))
	if !dashboard.KnownPanel(id) {
		writeError(w, http.StatusNotFound, "unknown panel "+strconv.Quote(string(id)))
		return
	}
	scope, err := s.scopeFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	panel, err := s.deps.Panels.Load(r.Context(), id, dashboard.Params{
		AuthorID: strings.TrimSpace(q.Get("author")),
		Scope:    scope,
	})
	switch {
	case errors.Is(err, dashboard.ErrNoAuthor):
		writeJSON(w, http.StatusBadRequest, panel)
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, panel)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if s.deps.Health != nil {
		resp.Dependencies = map[string]string{}
		for name, err := range s.deps.Health(r.Context()) {
			if err == nil {
				resp.Dependencies[name] = "ok"
				continue
			}
			resp.Dependencies[name] = err.Error()
			switch name {
			case "source":
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
			default:
				if resp.Status == "ok" {
					resp.Status = "degraded"
				}
			}
		}
	}
	if s.deps.Stats != nil {
		stats := s.deps.Stats()
		resp.Stats = &stats
	}
	writeJSON(w, status, resp)
}

// loadPanels loads ids concurrently, preserving their order.
func (s *Server) loadPanels(ctx context.Context, ids []dashboard.PanelID, p dashboard.Params) ([]dashboard.Panel, error) {
	panels := make([]dashboard.Panel, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPanels)
	for i, id := range ids {
		g.Go(func() error {
			panel, err := s.deps.Panels.Load(gctx, id, p)
			if err != nil {
				return err
			}
			panels[i] = panel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return panels, nil
}

// scopeFromQuery reads from, to and institution (repeatable or comma
// separated) parameters.
func (s *Server) scopeFromQuery(q url.Values) (dashboard.Scope, error) {
	from, err := yearParam(q, "from")
	if err != nil {
		return dashboard.Scope{}, err
	}
	to, err := yearParam(q, "to")
	if err != nil {
		return dashboard.Scope{}, err
	}
	var institutions []string
	for _, v := range q["institution"] {
		institutions = append(institutions, strings.Split(v, ",")...)
	}
	return dashboard.NewScope(from, to, institutions, s.deps.Panels.Now()), nil
}

func yearParam(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be a year")
	}
	return year, nil
}

func isFilterPanel(id dashboard.PanelID) bool {
	return slices.Contains(dashboard.FilterPanels(), id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
