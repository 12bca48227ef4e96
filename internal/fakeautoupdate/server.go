// Package fakeautoupdate provides a fake autoupdate websocket server for
// tests.
//
// Clients connect to [Server.URL] and send subscribe requests, which are
// recorded. The server answers every subscribe request with the patch set by
// [Server.SetOnSubscribe] and pushes further patches with [Server.Push].
// Connection loss is simulated with [Server.DropConnections].
package fakeautoupdate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"
)

const Path = "/system/autoupdate"

// Request is a received subscribe request.
type Request struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Request []struct {
		Collection string   `json:"collection"`
		Fields     []string `json:"fields"`
	} `json:"request"`
}

// Patch is a flat object of fqfields.
type Patch map[string]any

type socket struct {
	conn *gorilla.Conn
	mu   sync.Mutex
}

func (s *socket) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(gorilla.TextMessage, data)
}

type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	upgrader gorilla.Upgrader

	mu          sync.Mutex
	onSubscribe func(req Request) Patch
	sockets     map[*socket]bool
	requests    []Request
	changed     chan struct{}
}

// NewServer creates a server. Use "127.0.0.1:0" to bind to a random port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:    addr,
		sockets: make(map[*socket]bool),
		changed: make(chan struct{}),
		upgrader: gorilla.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	router := mux.NewRouter()
	router.HandleFunc(Path, s.handleWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	s.http = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("fakeautoupdate: server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.DropConnections()
	return s.http.Close()
}

func (s *Server) Address() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) URL() string {
	return "ws://" + s.Address() + Path
}

// SetOnSubscribe sets the function returning the patch sent in reply to a
// subscribe request. A nil patch sends nothing.
func (s *Server) SetOnSubscribe(fn func(req Request) Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubscribe = fn
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Requests returns the subscribe requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// WaitRequests blocks until n subscribe requests were received.
func (s *Server) WaitRequests(ctx context.Context, n int) ([]Request, error) {
	for {
		s.mu.Lock()
		if len(s.requests) >= n {
			reqs := append([]Request(nil), s.requests...)
			s.mu.Unlock()
			return reqs, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %d requests: %w", n, ctx.Err())
		}
	}
}

// Push sends a patch to every connected client.
func (s *Server) Push(p Patch) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.PushRaw(data)
}

// PushRaw sends data as is, which allows sending malformed frames.
func (s *Server) PushRaw(data []byte) error {
	var errs []error
	for _, sock := range s.snapshot() {
		errs = append(errs, sock.write(data))
	}
	return errors.Join(errs...)
}

// DropConnections closes all client connections without a close frame.
func (s *Server) DropConnections() {
	for _, sock := range s.snapshot() {
		sock.conn.Close()
	}
}

func (s *Server) snapshot() []*socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*socket, 0, len(s.sockets))
	for sock := range s.sockets {
		out = append(out, sock)
	}
	return out
}

// notifyLocked must be called with mu held.
func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("fakeautoupdate: upgrade failed: %v", err)
		return
	}
	sock := &socket{conn: conn}

	s.mu.Lock()
	s.sockets[sock] = true
	s.notifyLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sockets, sock)
		s.notifyLocked()
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("fakeautoupdate: invalid request: %v", err)
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.notifyLocked()
		onSubscribe := s.onSubscribe
		s.mu.Unlock()

		if onSubscribe == nil {
			continue
		}
		if p := onSubscribe(req); p != nil {
			reply, err := json.Marshal(p)
			if err != nil {
				log.Printf("fakeautoupdate: marshal reply: %v", err)
				continue
			}
			if err := sock.write(reply); err != nil {
				return
			}
		}
	}
}
