package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// frame is the JSON envelope for every event in either direction.
type frame struct {
	Event  string `json:"event"`
	ChatID string `json:"chatId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Gateway upgrades HTTP requests to WebSocket connections and bridges them
// into the registry. The handshake carries a bearer token as the `token`
// query parameter; the user identity comes from the verified claims, never
// from the `userId` parameter the client also sends. A missing or invalid
// token yields an anonymous connection.
type Gateway struct {
	Registry *Registry
	Secret   []byte
	Logger   *slog.Logger
}

type handshakeClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Handle serves one WebSocket connection for its whole lifetime.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	userID := g.authenticate(r.URL.Query().Get("token"))
	if claimed := r.URL.Query().Get("userId"); claimed != "" && claimed != "undefined" && claimed != userID {
		g.Logger.Debug("handshake userId does not match token identity", "claimed", claimed, "user_id", userID)
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.Logger.Warn("websocket accept failed", "error", err, "user_id", userID)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "session ended")

	connID := uuid.NewString()
	session := newSession(ws, g.Logger)
	defer session.close()

	g.Registry.Register(userID, connID, session)
	defer g.Registry.Unregister(connID, userID)

	// Every authenticated connection joins its per-user room so it can be
	// targeted directly by id.
	if userID != "" {
		g.Registry.JoinRoom(connID, userID)
	}
	g.Logger.Info("websocket connected", "conn_id", connID, "user_id", userID)

	g.readLoop(r.Context(), ws, connID, userID)
	g.Logger.Info("websocket disconnected", "conn_id", connID, "user_id", userID)
}

// authenticate verifies the handshake token and returns the user id it
// carries, or "" when the connection must stay anonymous.
func (g *Gateway) authenticate(token string) string {
	if token == "" || len(g.Secret) == 0 {
		return ""
	}
	claims := &handshakeClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return g.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		g.Logger.Debug("handshake token rejected", "error", err)
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, connID, userID string) {
	for {
		var in frame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, io.EOF) && ctx.Err() == nil {
				g.Logger.Debug("websocket read failed", "error", err, "conn_id", connID)
			}
			return
		}
		switch in.Event {
		case "joinRoom":
			g.Registry.JoinRoom(connID, in.ChatID)
		case "leaveRoom":
			g.Registry.LeaveRoom(connID, in.ChatID)
		case "typing":
			g.Registry.EmitTyping(in.ChatID, in.UserID)
		case "stopTyping":
			g.Registry.EmitStopTyping(in.ChatID, in.UserID)
		default:
			g.Logger.Debug("unknown websocket event", "event", in.Event, "conn_id", connID)
		}
	}
}

// session adapts one WebSocket connection to the registry Sink. Writes go
// through a buffered channel drained by a single writer goroutine; a full
// buffer drops the event, matching the best-effort delivery contract.
type session struct {
	ws     *websocket.Conn
	logger *slog.Logger
	send   chan frame
	done   chan struct{}
}

func newSession(ws *websocket.Conn, logger *slog.Logger) *session {
	s := &session{
		ws:     ws,
		logger: logger,
		send:   make(chan frame, sendBuffer),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *session) Emit(event string, payload any) {
	select {
	case s.send <- frame{Event: event, Data: payload}:
	case <-s.done:
	default:
		s.logger.Debug("dropping event, send buffer full", "event", event)
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case out := <-s.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, s.ws, out)
			cancel()
			if err != nil {
				s.logger.Debug("websocket write failed", "error", err, "event", out.Event)
				return
			}
		}
	}
}

func (s *session) close() {
	close(s.done)
}
