// Package api wires the HTTP surface: the REST endpoints for lists and
// members, and the websocket upgrade feeding the realtime engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/BeagleDevfr/shopping-sync-backend/pkg/access"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/live"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/store"
)

// userIDHeader carries the requester identity on owner-gated requests. Every
// owner check reads it explicitly; nothing is inferred from ambient state.
const userIDHeader = "X-User-Id"

type Server struct {
	store    *store.Store
	pipeline *live.Pipeline
	upgrader websocket.Upgrader
}

func NewServer(st *store.Store, p *live.Pipeline) *Server {
	return &Server{
		store:    st,
		pipeline: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodPost).Path("/lists").HandlerFunc(s.handleCreateList)
	r.Methods(http.MethodGet).Path("/lists/{code}").HandlerFunc(s.handleGetList)
	r.Methods(http.MethodPut).Path("/lists/{code}").HandlerFunc(s.handleRenameList)
	r.Methods(http.MethodDelete).Path("/lists/{code}").HandlerFunc(s.handleDeleteList)
	r.Methods(http.MethodPost).Path("/lists/{code}/join").HandlerFunc(s.handleJoin)
	r.Methods(http.MethodGet).Path("/lists/{code}/members").HandlerFunc(s.handleMembers)
	r.Methods(http.MethodGet).Path("/lists/{code}/members-count").HandlerFunc(s.handleMembersCount)
	r.Methods(http.MethodDelete).Path("/lists/{code}/members/{userId}").HandlerFunc(s.handleRemoveMember)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string           `json:"name"`
		User live.Participant `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, live.ErrValidation)
		return
	}
	l, err := s.pipeline.CreateList(r.Context(), body.Name, body.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shareId": l.ID})
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	l, err := s.pipeline.ListMeta(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.store.ListItems(r.Context(), code, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": l, "items": items})
}

func (s *Server) handleRenameList(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, live.ErrValidation)
		return
	}
	err := s.pipeline.RenameList(r.Context(), mux.Vars(r)["code"], body.Name, requester(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteList(r.Context(), mux.Vars(r)["code"], requester(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User live.Participant `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, live.ErrValidation)
		return
	}
	if err := s.pipeline.EnrollMember(r.Context(), mux.Vars(r)["code"], body.User); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if _, err := s.pipeline.ListMeta(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	members, err := s.store.ListMembers(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// handleMembersCount reports live presence, the number of connections
// currently watching the list, not the durable membership count.
func (s *Server) handleMembersCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": s.pipeline.Presence(mux.Vars(r)["code"])})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.pipeline.RemoveMember(r.Context(), vars["code"], vars["userId"], requester(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s.pipeline.ServeConn(r.Context(), conn)
}

func requester(r *http.Request) live.Participant {
	return live.Participant{ID: strings.TrimSpace(r.Header.Get(userIDHeader))}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, live.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "VALIDATION_ERROR"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
	case errors.Is(err, access.ErrBanned):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "FORBIDDEN", "reason": "BANNED"})
	case errors.Is(err, access.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "FORBIDDEN", "reason": "NOT_OWNER"})
	default:
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "INTERNAL"})
	}
}
