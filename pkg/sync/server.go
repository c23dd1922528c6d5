package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// MaxMessageSize bounds a single frame; a genesis document travels in one.
const MaxMessageSize = 64 << 20

// Server exposes a Service over websockets.
type Server struct {
	service Service
	server  *http.Server
	l       net.Listener
	log     *zap.SugaredLogger
}

// NewServer listens on addr (host:port, port 0 picks a free one). Call Serve
// to start accepting connections.
func NewServer(log *zap.SugaredLogger, service Service, addr string) (*Server, error) {
	srv := &Server{
		service: service,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", srv.healthz).Methods(http.MethodGet)
	r.HandleFunc("/", srv.handler)

	srv.server = &http.Server{Handler: r}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv.l = l
	return srv, nil
}

func (s *Server) Serve() error {
	return s.server.Serve(s.l)
}

func (s *Server) Addr() string {
	return s.l.Addr().String()
}

// URL is the websocket endpoint clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Accept requests from all domains.
	})
	if err != nil {
		s.log.Warnf("could not upgrade connection: %v", err)
		return
	}
	c.SetReadLimit(MaxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &connection{
		Conn:        c,
		service:     s.service,
		ctx:         ctx,
		log:         s.log.With("conn", uuid.New().String()),
		responses:   make(chan *Response),
		cancelFuncs: map[string]context.CancelFunc{},
	}
	conn.log.Debugw("client connected", "remote", r.RemoteAddr)

	go func() {
		_ = conn.consumeResponses()
		cancel()
	}()
	err = conn.consumeRequests()

	if err == nil {
		_ = c.Close(websocket.StatusNormalClosure, "")
		return
	}

	if errors.Is(err, context.Canceled) ||
		websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		conn.log.Debug("client closed connection")
		_ = c.Close(websocket.StatusNormalClosure, "")
		return
	}

	conn.log.Warnf("websocket closed unexpectedly: %v", err)
	_ = c.Close(websocket.StatusInternalError, "")
}
