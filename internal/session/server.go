package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/constants"
	"github.com/ideate/ideate/internal/common/httpmw"
	"github.com/ideate/ideate/internal/common/logger"
	ws "github.com/ideate/ideate/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local single-user server; the launched browser is the only peer.
		return true
	},
}

// server is the HTTP+WebSocket endpoint owned by one session. It binds its
// listener at construction so the URL is known before anything is served.
type server struct {
	sessionID string
	httpSrv   *http.Server
	listener  net.Listener
	port      int
	logger    *logger.Logger
}

func newServer(store *Store, sessionID string, cfg Config, log *logger.Logger) (*server, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, cfg.Port))
	if err != nil && cfg.Port != 0 {
		// Pinned port taken; an ephemeral one still serves the session.
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:0", host))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind session port: %w", err)
	}
	boundPort := ln.Addr().(*net.TCPAddr).Port

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "session"))
	router.Use(httpmw.OtelTracing("session"))

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", cfg.UI)
	})
	router.GET("/ws", func(c *gin.Context) {
		store.handleWS(sessionID, c)
	})

	return &server{
		sessionID: sessionID,
		httpSrv: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: cfg.HeaderTimeout,
		},
		listener: ln,
		port:     boundPort,
		logger: log.WithFields(
			zap.String("session_id", sessionID),
			zap.Int("port", boundPort)),
	}, nil
}

// Start serves on the pre-bound listener.
func (s *server) Start() {
	go func() {
		if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Session server terminated")
		}
	}()
}

// Stop drains the server within the shutdown budget, then force-closes.
func (s *server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.SessionShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		_ = s.httpSrv.Close()
	}
}

func (s *server) Port() int { return s.port }

func (s *server) URL() string { return fmt.Sprintf("http://localhost:%d", s.port) }

// handleWS upgrades the connection, attaches the client to its session, and
// runs the pumps. Pending questions are replayed to the fresh client in
// insertion order before anything else is sent.
func (s *Store) handleWS(sessionID string, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithSessionID(sessionID).WithError(err).Error("Failed to upgrade connection")
		return
	}

	cl, replay, ok := s.attachClient(sessionID, conn)
	if !ok {
		// Session ended between upgrade and attach.
		_ = conn.Close()
		return
	}

	s.logger.WithSessionID(sessionID).Debug("WebSocket connection established",
		zap.String("client_id", cl.id),
		zap.String("remote_addr", c.Request.RemoteAddr),
		zap.Int("replayed_questions", len(replay)))

	for _, f := range replay {
		cl.sendFrame(f)
	}

	go cl.writePump()
	cl.readPump()
}

// attachClient binds a fresh client to the session, replacing any prior one,
// and returns the question frames to replay.
func (s *Store) attachClient(sessionID string, conn *gorillaws.Conn) (*client, []*ws.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}

	cl := newClient(uuid.New().String(), sessionID, conn, s, s.logger)
	if prev := sess.wsClient; prev != nil {
		prev.close()
	}
	sess.wsClient = cl
	sess.wsConnected = true

	var replay []*ws.Frame
	for _, q := range sess.pendingQuestionsLocked() {
		replay = append(replay, ws.NewQuestionFrame(q.ID, string(q.Type), q.Config))
	}
	return cl, replay, true
}

// detachClient clears the session's client slot when the given client is
// still the attached one. Questions are untouched by a disconnect.
func (s *Store) detachClient(sessionID string, cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.wsClient == cl {
		sess.wsClient = nil
		sess.wsConnected = false
	}
}
