package rpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"
)

// maxBodyBytes limits a request body to 1 MB to prevent memory exhaustion.
const maxBodyBytes = 1 << 20

// Server is a JSON-RPC 2.0 HTTP server. Besides the RPC endpoint at "/" it
// can mount extra handlers, such as /metrics and the /ws stream.
type Server struct {
	handler   *Handler
	addr      string
	authToken string // empty → no auth required
	tlsConfig *tls.Config
	mux       *http.ServeMux
	srv       *http.Server
	ln        net.Listener
	closers   []func()
}

// NewServer creates a Server on addr. If authToken is non-empty, every
// request must carry a matching "Authorization: Bearer <token>" header.
// tlsConfig may be nil for plain HTTP.
func NewServer(addr string, handler *Handler, authToken string, tlsConfig *tls.Config) *Server {
	s := &Server{handler: handler, addr: addr, authToken: authToken, tlsConfig: tlsConfig, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.serveRPC)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.authorize(s.mux),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handle mounts h at pattern behind the same authentication as RPC calls.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// MountStream serves st at /ws and closes it when the server stops.
func (s *Server) MountStream(st *Stream) {
	s.Handle("/ws", st)
	s.closers = append(s.closers, st.Close)
}

// Handler returns the server's root handler, for use with httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		var err error
		if s.tlsConfig != nil {
			err = s.srv.ServeTLS(ln, "", "")
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[rpc] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop closes websocket streams, then gracefully shuts down the HTTP server,
// waiting up to 5 seconds for in-flight requests to complete.
func (s *Server) Stop() error {
	for _, c := range s.closers {
		c()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) authorize(next http.Handler) http.Handler {
	if s.authToken == "" {
		return next
	}
	want := []byte("Bearer " + s.authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(req)
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
