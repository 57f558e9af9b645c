// Package sttmock is a stand-in transcription service. It accepts chunk
// frames over a websocket and answers each with a canned transcript, which
// is enough to drive the client end to end without a speech model.
package sttmock

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chaz8081/gostt-stream/internal/transport"
	"github.com/gorilla/websocket"
)

// Path is the endpoint the service listens on.
const Path = "/ws/audio"

// Responder produces the reply for one request. Returning false sends
// nothing, which simulates a lost result.
type Responder func(req transport.Request, samples []float32) (transport.Result, bool)

// Echo answers every chunk with a transcript naming the chunk and its
// length.
func Echo(req transport.Request, samples []float32) (transport.Result, bool) {
	secs := float64(len(samples)) / float64(req.SampleRate)
	return transport.Result{
		Index:      req.ChunkIdx,
		Transcript: fmt.Sprintf("Transcript for chunk %d (%.1fs)", req.ChunkIdx+1, secs),
		Language:   "en",
		Status:     "success",
	}, true
}

// Script answers from a fixed table keyed by chunk index. Indices missing
// from the table get no reply.
func Script(transcripts map[int]string) Responder {
	return func(req transport.Request, _ []float32) (transport.Result, bool) {
		text, ok := transcripts[req.ChunkIdx]
		if !ok {
			return transport.Result{}, false
		}
		return transport.Result{Index: req.ChunkIdx, Transcript: text, Status: "success"}, true
	}
}

// Option configures a Server.
type Option func(*Server)

// WithResponder replaces the default Echo responder.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.respond = r }
}

// WithDelay holds each reply back by delay(index), so replies can be made
// to arrive out of order.
func WithDelay(delay func(index int) time.Duration) Option {
	return func(s *Server) { s.delay = delay }
}

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// Server is an http.Handler serving the mock transcription endpoint.
type Server struct {
	upgrader websocket.Upgrader
	respond  Responder
	delay    func(int) time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	requests []transport.Request
	conns    map[*websocket.Conn]struct{}
}

// New creates a server.
func New(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		respond: Echo,
		log:     slog.Default(),
		conns:   make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "sttmock")
	return s
}

// Handler returns a mux that serves the endpoint at Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// Requests returns every valid request received so far, in arrival order.
func (s *Server) Requests() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CloseConnections drops every open client connection without a close
// handshake.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.log.Info("client connected", "remote", r.RemoteAddr)
	s.serve(conn)
}

func (s *Server) serve(conn *websocket.Conn) {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer func() {
		wg.Wait()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read error", "error", err)
			}
			return
		}

		req, samples, err := transport.DecodeRequest(data)
		if err != nil {
			s.log.Warn("bad request", "error", err)
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			if s.delay != nil {
				time.Sleep(s.delay(req.ChunkIdx))
			}
			res, ok := s.respond(req, samples)
			if !ok {
				s.log.Debug("withholding reply", "chunk", req.ChunkIdx)
				return
			}
			if res.ProcessingTime == 0 {
				res.ProcessingTime = time.Since(start)
			}
			out, err := transport.EncodeReply(res)
			if err != nil {
				s.log.Error("encode reply", "chunk", req.ChunkIdx, "error", err)
				return
			}

			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				s.log.Debug("write reply", "chunk", req.ChunkIdx, "error", err)
			}
		}()
	}
}
