package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/shinji-kodama/workshop-hub/internal/model"
	"github.com/shinji-kodama/workshop-hub/internal/registry"
	"github.com/shinji-kodama/workshop-hub/internal/spawn"
)

// maxBodyBytes caps request bodies; a plan request is a few dozen bytes.
const maxBodyBytes = 64 << 10

type registryInfo struct {
	Name     string `json:"name"`
	BasePort int    `json:"basePort"`
	Path     string `json:"path"`
}

type portResponse struct {
	Registry string `json:"registry"`
	User     string `json:"user"`
	Port     int    `json:"port"`
}

type entriesResponse struct {
	Registry string                 `json:"registry"`
	Entries  []model.PortAssignment `json:"entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegistries(w http.ResponseWriter, _ *http.Request) {
	out := []registryInfo{}
	for _, r := range s.regs.All() {
		out = append(out, registryInfo{Name: r.Name(), BasePort: r.BasePort(), Path: r.Path()})
	}
	writeJSON(w, http.StatusOK, out)
}

// pathParam returns the decoded value of a route parameter. chi matches on
// the escaped path when the request carries one, so parameters are escaped
// exactly when r.URL.RawPath is set.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return "", fmt.Errorf("%w: malformed %s in path: %w", errBadRequest, key, err)
	}
	return decoded, nil
}

func (s *Server) registryParam(r *http.Request) (*registry.Registry, error) {
	name, err := pathParam(r, "registry")
	if err != nil {
		return nil, err
	}
	return s.regs.Get(name)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registryParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := reg.Entries(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.PortAssignment{}
	}
	writeJSON(w, http.StatusOK, entriesResponse{Registry: reg.Name(), Entries: entries})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registryParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := pathParam(r, "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	port, ok, err := reg.Lookup(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: user %q has no %s port", errNotFound, user, reg.Name()))
		return
	}
	writeJSON(w, http.StatusOK, portResponse{Registry: reg.Name(), User: user, Port: port})
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registryParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := pathParam(r, "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	port, err := reg.Allocate(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, portResponse{Registry: reg.Name(), User: user, Port: port})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: errorDetail{Message: "planning is not enabled"}})
		return
	}

	var req spawn.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	plan, err := s.planner.Plan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
