// Package chatapi exposes the chat manager over a local HTTP API: one
// JSON snapshot endpoint, an SSE change stream, and thin POST handlers
// that map straight onto manager operations.
package chatapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sunmoonron/rinkchat/internal/chat"
	"github.com/sunmoonron/rinkchat/internal/wire"
)

type Server struct {
	m   *chat.Manager
	log *zap.Logger
}

func NewServer(m *chat.Manager, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{m: m, log: log}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/chat/v1/state", s.handleState)
	mux.HandleFunc("/api/chat/v1/stream", s.handleStream)
	mux.HandleFunc("/api/chat/v1/groups/create", s.handleCreateGroup)
	mux.HandleFunc("/api/chat/v1/groups/join", s.handleJoinGroup)
	mux.HandleFunc("/api/chat/v1/groups/leave", s.handleLeaveGroup)
	mux.HandleFunc("/api/chat/v1/groups/switch", s.handleSwitchGroup)
	mux.HandleFunc("/api/chat/v1/rooms", s.handleRooms)
	mux.HandleFunc("/api/chat/v1/rooms/join", s.handleJoinRoom)
	mux.HandleFunc("/api/chat/v1/messages/send", s.handleSendMessage)
	mux.HandleFunc("/api/chat/v1/messages/", s.handleGroupView)
	mux.HandleFunc("/api/chat/v1/vote", s.handleVote)
	mux.HandleFunc("/api/chat/v1/share", s.handleShare)
	mux.HandleFunc("/api/chat/v1/dm/send", s.handleSendDirect)
	mux.HandleFunc("/api/chat/v1/dm/open", s.handleOpenDM)
	mux.HandleFunc("/api/chat/v1/dm/", s.handleThread)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel := s.m.SubscribeEvents()
	defer cancel()

	clientID := uuid.NewString()
	s.log.Debug("stream client connected", zap.String("client", clientID))
	defer s.log.Debug("stream client gone", zap.String("client", clientID))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte(fmt.Sprintf("event: %s\ndata: {}\n\n", event))); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.m.Snapshot())
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, shareURL, err := s.m.CreateGroup(req.Name, req.Password)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "share_url": shareURL})
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Secret   string `json:"secret"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, already, err := s.m.JoinGroup(req.Secret, req.Password, req.Name)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "already_joined": already})
}

func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		GroupID string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.m.LeaveGroup(req.GroupID); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSwitchGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		GroupID string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.m.SwitchGroup(req.GroupID); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": chat.PublicRoomKeys()})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Room string `json:"room"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, already, err := s.m.JoinPublicRoom(req.Room)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "already_joined": already})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.m.SendMessage(req.Text); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleGroupView serves one group's history, tally, and roster.
func (s *Server) handleGroupView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	groupID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/chat/v1/messages/"), "/")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group id required")
		return
	}
	members := s.m.Members(groupID)
	if members == nil {
		writeError(w, http.StatusNotFound, chat.ErrUnknownGroup.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": s.m.GroupMessages(groupID),
		"votes":    s.m.Votes(groupID),
		"members":  members,
	})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Option int `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.m.VoteTime(req.Option); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Title    string `json:"title"`
		Venue    string `json:"venue"`
		StartsAt int64  `json:"starts_at"`
		Details  string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	prog := wire.Program{Title: req.Title, Venue: req.Venue, StartsAt: req.StartsAt, Details: req.Details}
	if err := s.m.ShareProgram(prog); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSendDirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		PeerPubKey string `json:"peer_pub_key"`
		PeerName   string `json:"peer_name"`
		Text       string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.m.SendDirect(req.PeerPubKey, req.PeerName, req.Text); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleOpenDM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		PeerPubKey string `json:"peer_pub_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.m.OpenDM(req.PeerPubKey)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pubkey := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/chat/v1/dm/"), "/")
	if pubkey == "" {
		writeError(w, http.StatusBadRequest, "peer pubkey required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.m.ThreadMessages(pubkey)})
}

// writeManagerError maps the manager's sentinels onto HTTP statuses.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUnknownGroup), errors.Is(err, chat.ErrUnknownRoom):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrCapacity):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
