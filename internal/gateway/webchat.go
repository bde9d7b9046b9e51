// Package gateway exposes the engine to the outside: a websocket webchat
// with token auth, a management REST surface, and an optional email channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/config"
	"amightyclaw/internal/logging"
	"amightyclaw/internal/store"
)

type Server struct {
	cfg   config.Config
	bus   *bus.Bus
	store *store.Store
	jobs  JobManager
	log   *slog.Logger

	httpServer *http.Server
}

func NewServer(cfg config.Config, b *bus.Bus, st *store.Store) *Server {
	return &Server{cfg: cfg, bus: b, store: st, log: logging.New("gateway")}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	s.registerManagementRoutes(mux)
	return mux
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.log.Info("gateway listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if s.cfg.Password == "" || in.Password != s.cfg.Password {
		httpError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": signToken(s.cfg.TokenSecret, time.Now()),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return verifyToken(s.cfg.TokenSecret, token) == nil
}

// clientFrame is what the browser sends over the socket.
type clientFrame struct {
	Type           string `json:"type"` // chat|approval
	ConversationID string `json:"conversation_id,omitempty"`
	Profile        string `json:"profile,omitempty"`
	Content        string `json:"content,omitempty"`
	InvocationID   string `json:"invocation_id,omitempty"`
	Approved       bool   `json:"approved,omitempty"`
}

// serverFrame wraps a bus event for the browser.
type serverFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		httpError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()
	sub := s.bus.Subscribe(
		bus.KindStreamFragment, bus.KindStreamEnd, bus.KindAssistant,
		bus.KindApprovalRequest, bus.KindToolStarted, bus.KindToolCompleted,
	)
	defer sub.Close()

	go s.pushEvents(ctx, conn, sub)
	s.readFrames(ctx, conn)
}

func (s *Server) pushEvents(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			frame, ok := toServerFrame(ev)
			if !ok {
				continue
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func toServerFrame(ev bus.Event) (serverFrame, bool) {
	switch ev.Kind {
	case bus.KindStreamFragment:
		return serverFrame{Type: "stream_fragment", Payload: ev.StreamFragment}, true
	case bus.KindStreamEnd:
		return serverFrame{Type: "stream_end", Payload: ev.StreamEnd}, true
	case bus.KindAssistant:
		return serverFrame{Type: "message", Payload: ev.Assistant}, true
	case bus.KindApprovalRequest:
		return serverFrame{Type: "approval_request", Payload: ev.ApprovalRequest}, true
	case bus.KindToolStarted:
		return serverFrame{Type: "tool_started", Payload: ev.Tool}, true
	case bus.KindToolCompleted:
		return serverFrame{Type: "tool_completed", Payload: ev.Tool}, true
	default:
		return serverFrame{}, false
	}
}

func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Debug("dropping malformed client frame", "error", err)
			continue
		}
		switch frame.Type {
		case "chat":
			if strings.TrimSpace(frame.Content) == "" {
				continue
			}
			convID := strings.TrimSpace(frame.ConversationID)
			if convID == "" {
				convID = store.NewConversationID()
			}
			s.bus.Publish(bus.Event{Kind: bus.KindInbound, Inbound: &bus.Inbound{
				ConversationID: convID,
				Channel:        "webchat",
				Profile:        frame.Profile,
				Content:        frame.Content,
			}})
		case "approval":
			if frame.InvocationID == "" {
				continue
			}
			s.bus.Publish(bus.Event{Kind: bus.KindApprovalResponse, ApprovalResponse: &bus.ApprovalResponse{
				InvocationID: frame.InvocationID,
				Approved:     frame.Approved,
			}})
		default:
			s.log.Debug("unknown client frame type", "type", frame.Type)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
