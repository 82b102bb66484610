/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"taski/internal/domain"
	applog "taski/internal/log"
	"taski/internal/perm"
	"taski/internal/realtime"
	"taski/internal/version"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 20 << 20
)

// Server exposes a Repository over REST and streams changes over websockets.
type Server struct {
	Repo  Repository
	Hub   *realtime.Hub
	Files DiskFiles
	// Events receives changes made through the API. Leave nil when a
	// database listener publishes them instead.
	Events Events
	Secret string
	// DevTokens enables POST /api/auth/token, which signs a token for any subject.
	DevTokens bool
	TokenTTL  time.Duration

	log *slog.Logger
}

// NewServer returns a server publishing its own changes on hub.
func NewServer(repo Repository, hub *realtime.Hub, files DiskFiles, secret string) *Server {
	s := &Server{
		Repo:     repo,
		Hub:      hub,
		Files:    files,
		Events:   HubEvents{Hub: hub},
		Secret:   secret,
		TokenTTL: time.Hour,
		log:      applog.WithComponent("backend"),
	}
	if secret == "" {
		s.Secret = DevSecret
		s.log.Warn("no auth secret configured; using insecure dev secret")
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	r.Handle("/realtime", realtime.NewEndpoint(s.Hub, s.authorizeChannel))

	api := r.PathPrefix("/api").Subrouter()
	if s.DevTokens {
		api.HandleFunc("/auth/token", s.handleIssueToken).Methods(http.MethodPost)
	}
	api.HandleFunc("/projects", s.withAuth(s.handleListProjects)).Methods(http.MethodGet)
	api.HandleFunc("/projects", s.withAuth(s.handleCreateProject)).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}", s.withAuth(s.handleGetProject)).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}", s.withAuth(s.handleUpdateProject)).Methods(http.MethodPatch)
	api.HandleFunc("/projects/{id}", s.withAuth(s.handleDeleteProject)).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id}/elements", s.withAuth(s.handleListElements)).Methods(http.MethodGet)

	api.HandleFunc("/elements", s.withAuth(s.handleCreateElement)).Methods(http.MethodPost)
	api.HandleFunc("/elements/{id}", s.withAuth(s.handleGetElement)).Methods(http.MethodGet)
	api.HandleFunc("/elements/{id}", s.withAuth(s.handleUpdateElement)).Methods(http.MethodPatch)
	api.HandleFunc("/elements/{id}", s.withAuth(s.handleDeleteElement)).Methods(http.MethodDelete)

	api.HandleFunc("/files", s.withAuth(s.handleUploadFile)).Methods(http.MethodPost)
	api.HandleFunc("/files/{ref}", s.withAuth(s.handleGetFile)).Methods(http.MethodGet)
	api.HandleFunc("/files/{ref}", s.withAuth(s.handleDeleteFile)).Methods(http.MethodDelete)
	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", slog.String("addr", addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Repo.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("db not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(version.String()))
}

// POST /api/auth/token {subject, ttl_seconds} → {token, expires_at}
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject    string `json:"subject"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing subject"))
		return
	}
	ttl := s.TokenTTL
	if req.TTLSeconds > 0 && req.TTLSeconds <= 24*3600 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	tok, exp, err := IssueToken(s.Secret, req.Subject, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, user string) {
	list, err := s.Repo.ListProjects(r.Context(), user)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, user string) {
	var p domain.Project
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.OwnerID != "" && p.OwnerID != user {
		writeError(w, http.StatusForbidden, errors.New("cannot create a project for another user"))
		return
	}
	p.OwnerID = user
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.Repo.CreateProject(r.Context(), p)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "project created", slog.String("project", saved.ID))
	if s.Events != nil {
		s.Events.ProjectChanged(domain.Created, saved)
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, user string) {
	p, ok := s.project(w, r, mux.Vars(r)["id"], user, perm.CanView)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request, user string) {
	id := mux.Vars(r)["id"]
	if _, ok := s.project(w, r, id, user, perm.IsOwner); !ok {
		return
	}
	var patch domain.ProjectPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.Repo.UpdateProject(r.Context(), id, patch)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if s.Events != nil {
		s.Events.ProjectChanged(domain.Updated, saved)
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, user string) {
	id := mux.Vars(r)["id"]
	p, ok := s.project(w, r, id, user, perm.IsOwner)
	if !ok {
		return
	}
	if err := s.Repo.DeleteProject(r.Context(), id); err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "project deleted", slog.String("project", id))
	if s.Events != nil {
		s.Events.ProjectChanged(domain.Deleted, p)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request, user string) {
	id := mux.Vars(r)["id"]
	if _, ok := s.project(w, r, id, user, perm.CanView); !ok {
		return
	}
	els, err := s.Repo.FetchElements(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if els == nil {
		els = []domain.Element{}
	}
	writeJSON(w, http.StatusOK, els)
}

func (s *Server) handleCreateElement(w http.ResponseWriter, r *http.Request, user string) {
	var e domain.Element
	if err := decodeJSON(r, &e); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.project(w, r, e.ProjectID, user, perm.CanMutate); !ok {
		return
	}
	saved, err := s.Repo.CreateElement(r.Context(), e)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if s.Events != nil {
		s.Events.ElementChanged(domain.Created, saved)
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request, user string) {
	e, ok := s.element(w, r, user, perm.CanView)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateElement(w http.ResponseWriter, r *http.Request, user string) {
	e, ok := s.element(w, r, user, perm.CanMutate)
	if !ok {
		return
	}
	var patch domain.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.Repo.UpdateElement(r.Context(), e.ID, patch)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if s.Events != nil {
		s.Events.ElementChanged(domain.Updated, saved)
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request, user string) {
	e, ok := s.element(w, r, user, perm.CanMutate)
	if !ok {
		return
	}
	gone, err := s.Repo.DeleteElement(r.Context(), e.ID)
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	if s.Events != nil {
		s.Events.ElementChanged(domain.Deleted, gone)
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/files with an image body → {ref}
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, user string) {
	ext := ExtFor(r.Header.Get("Content-Type"))
	if ext == "" {
		writeError(w, http.StatusUnsupportedMediaType, errors.New("unsupported image type"))
		return
	}
	ref, err := s.Files.Put(r.Context(), http.MaxBytesReader(w, r.Body, maxUploadBody), ext)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.DebugContext(r.Context(), "file stored", slog.String("ref", ref))
	writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, _ string) {
	f, err := s.Files.Open(mux.Vars(r)["ref"])
	if err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, _ string) {
	if err := s.Files.DeleteFile(r.Context(), mux.Vars(r)["ref"]); err != nil {
		s.writeRepoError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeChannel admits authenticated users to the collection channels and
// to project element channels they may view. Every delivery is re-checked
// against the project's current row, so access follows collaborator changes.
func (s *Server) authorizeChannel(r *http.Request, channel string) (realtime.Filter, error) {
	user, err := VerifyToken(s.Secret, bearer(r))
	if err != nil {
		return nil, err
	}
	switch {
	case channel == realtime.ChannelProjects:
		return s.projectFilter(r.Context(), user)
	case channel == realtime.ChannelElements:
		return s.elementFilter(user), nil
	case strings.HasPrefix(channel, realtime.ChannelElements+"."):
		pid := strings.TrimPrefix(channel, realtime.ChannelElements+".")
		p, err := s.Repo.GetProject(r.Context(), pid)
		if err != nil {
			return nil, err
		}
		if !perm.CanView(p, user) {
			return nil, ErrForbidden
		}
		return s.elementFilter(user), nil
	}
	return nil, fmt.Errorf("unknown channel %q", channel)
}

// projectFilter delivers project rows the user can view. A project the user
// could view earlier on this connection, or is a member of at subscribe time,
// is still delivered once after access is lost so the client can react.
func (s *Server) projectFilter(ctx context.Context, user string) (realtime.Filter, error) {
	mine, err := s.Repo.ListProjects(ctx, user)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(mine))
	for _, p := range mine {
		known[p.ID] = true
	}
	return func(_ context.Context, m realtime.Message) bool {
		p, err := realtime.DecodeProject(m)
		if err != nil {
			return false
		}
		visible := perm.CanView(p, user)
		deliver := visible || known[p.ID]
		deleted := false
		for _, k := range realtime.DecodeKinds(m.Events) {
			deleted = deleted || k == domain.Deleted
		}
		if visible && !deleted {
			known[p.ID] = true
		} else {
			delete(known, p.ID)
		}
		return deliver
	}, nil
}

// elementFilter delivers element rows whose project the user can currently view.
func (s *Server) elementFilter(user string) realtime.Filter {
	return func(ctx context.Context, m realtime.Message) bool {
		e, err := realtime.DecodeElement(m)
		if err != nil {
			return false
		}
		p, err := s.Repo.GetProject(ctx, e.ProjectID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.WarnContext(ctx, "realtime access check failed", slog.String("project", e.ProjectID), slog.Any("err", err))
			}
			return false
		}
		return perm.CanView(p, user)
	}
}

// project loads id and checks allowed(project, user), writing the error response on failure.
func (s *Server) project(w http.ResponseWriter, r *http.Request, id, user string, allowed func(domain.Project, string) bool) (domain.Project, bool) {
	p, err := s.Repo.GetProject(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, r, err)
		return domain.Project{}, false
	}
	if !allowed(p, user) {
		writeError(w, http.StatusForbidden, ErrForbidden)
		return domain.Project{}, false
	}
	return p, true
}

func (s *Server) element(w http.ResponseWriter, r *http.Request, user string, allowed func(domain.Project, string) bool) (domain.Element, bool) {
	e, err := s.Repo.GetElement(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeRepoError(w, r, err)
		return domain.Element{}, false
	}
	if _, ok := s.project(w, r, e.ProjectID, user, allowed); !ok {
		return domain.Element{}, false
	}
	return e, true
}

func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearer(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		user, err := VerifyToken(s.Secret, tok)
		if err != nil {
			s.log.Debug("rejected token", slog.String("path", r.URL.Path), slog.Any("err", err))
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next(w, r.WithContext(applog.ContextWith(r.Context(), slog.String("user", user))), user)
	}
}

func (s *Server) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ErrBadRef), errors.Is(err, domain.ErrMissingID), errors.Is(err, domain.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.log.ErrorContext(r.Context(), "request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
