package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/devmaster/internal/capability"
	"github.com/loqalabs/devmaster/internal/eventstore"
	"github.com/loqalabs/devmaster/internal/prompt"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/loqalabs/devmaster/internal/studio"
	"github.com/nats-io/nats.go"
)

const (
	maxBodyBytes    = 1 << 20
	wsWriteWait     = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsEventBacklog  = 64
	defaultHistory  = 100
	maxHistoryLimit = 1000
)

// HistoryStore returns recorded studio events for a session.
type HistoryStore interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

// NodeDirectory lists studio nodes known on the bus.
type NodeDirectory interface {
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

// API serves the studio over HTTP.
type API struct {
	studio   *studio.Manager
	history  HistoryStore
	nodes    NodeDirectory
	events   *nats.Conn
	log      *slog.Logger
	upgrader websocket.Upgrader
	done     chan struct{}
}

// NewAPI builds the HTTP surface. history and events may be nil, in which
// case history is empty and the event stream is unavailable.
func NewAPI(manager *studio.Manager, history HistoryStore, events *nats.Conn, log *slog.Logger) *API {
	return &API{
		studio:  manager,
		history: history,
		events:  events,
		log:     log.With(slog.String("component", "api")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/options", a.handleOptions)
	mux.HandleFunc("GET /v1/capabilities", a.handleCapabilities)
	mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/content", a.handleContent)
	mux.HandleFunc("POST /v1/sessions/{id}/voice", a.handleVoice)
	mux.HandleFunc("POST /v1/sessions/{id}/playback/start", a.handlePlay)
	mux.HandleFunc("POST /v1/sessions/{id}/playback/stop", a.handleStop)
	mux.HandleFunc("GET /v1/sessions/{id}/export", a.handleExport)
	mux.HandleFunc("GET /v1/sessions/{id}/history", a.handleHistory)
	mux.HandleFunc("GET /v1/sessions/{id}/events", a.handleEvents)
}

// Close ends open event streams.
func (a *API) Close() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

func (a *API) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		prompt.Catalog
		Defaults prompt.Input `json:"defaults"`
	}{prompt.Options(), prompt.DefaultInput()})
}

func (a *API) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	nodes := []capability.NodeInfo{}
	if a.nodes != nil {
		var filter func(capability.NodeInfo) bool
		if name := r.URL.Query().Get("name"); name != "" {
			filter = capability.WithCapability(name)
		}
		nodes = append(nodes, a.nodes.Query(filter)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (a *API) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	s, err := a.studio.Create()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.State())
}

func (a *API) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": a.studio.List()})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.studio.Close(r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContent(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var in prompt.Input
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := s.GenerateContent(r.Context(), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleVoice(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var in studio.VoiceInput
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := s.GenerateVoice(r.Context(), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := s.Play(); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	s.Stop()
	writeJSON(w, http.StatusOK, s.State())
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	file, err := s.Export()
	if errors.Is(err, studio.ErrNoBuffer) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		a.log.Warn("export write failed", slog.String("session_id", s.ID()), slog.String("error", err.Error()))
	}
}

// History outlives the session, so an unknown id is not an error here.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	events := []eventstore.Event{}
	if a.history != nil {
		found, err := a.history.ListSessionEvents(r.Context(), id, limit)
		if err != nil {
			a.log.Error("history query failed", slog.String("session_id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history unavailable"})
			return
		}
		if found != nil {
			events = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": events})
}

// handleEvents streams the session's studio events over a WebSocket until the
// client goes away or the session closes.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if a.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event stream unavailable"})
		return
	}
	msgs := make(chan *nats.Msg, wsEventBacklog)
	sub, err := a.events.ChanSubscribe(protocol.SessionEventsSubject(s.ID()), msgs)
	if err != nil {
		a.log.Error("event subscription failed", slog.String("session_id", s.ID()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event stream unavailable"})
		return
	}
	defer sub.Unsubscribe()
	if err := a.events.Flush(); err != nil {
		a.log.Warn("event subscription flush failed", slog.String("error", err.Error()))
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		a.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-a.done:
			closeSocket(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case msg := <-msgs:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
			if strings.HasSuffix(msg.Subject, "."+protocol.EventSessionClosed) {
				closeSocket(conn, websocket.CloseNormalClosure, "session closed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*studio.Session, bool) {
	s, err := a.studio.Get(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return nil, false
	}
	return s, true
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, studio.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, studio.ErrClosed):
		return http.StatusGone
	case errors.Is(err, studio.ErrStale), errors.Is(err, studio.ErrBusy),
		errors.Is(err, studio.ErrNoContent), errors.Is(err, studio.ErrNoBuffer):
		return http.StatusConflict
	case errors.Is(err, prompt.ErrUnknownOption):
		return http.StatusBadRequest
	case errors.Is(err, studio.ErrSessionLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, studio.ErrNoAudio):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Warn("request failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
