package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/84hero/lockhook/pkg/hub"
	"github.com/84hero/lockhook/pkg/processor"
	"github.com/ethereum/go-ethereum/log"
)

// Credentials is the slice of the credential manager the health endpoint needs.
type Credentials interface {
	HasCredential() bool
}

// Processor handles one delivery body.
type Processor interface {
	Handle(ctx context.Context, body []byte) processor.Result
}

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	Network     int
	LockAddress string
	CallbackURL string
	HubSecret   string
	RateLimit   float64 // requests per second, zero disables limiting
	RateBurst   int
}

// Server exposes the relay's HTTP surface: the WebSub callback pair, the
// manual subscription triggers and a health endpoint.
type Server struct {
	cfg        Config
	hub        *hub.Controller
	processor  Processor
	creds      Credentials
	middleware *Middleware
	server     *http.Server
}

// NewServer wires the HTTP surface.
func NewServer(cfg Config, hc *hub.Controller, p Processor, creds Credentials) *Server {
	s := &Server{
		cfg:        cfg,
		hub:        hc,
		processor:  p,
		creds:      creds,
		middleware: NewMiddleware(cfg.RateLimit, cfg.RateBurst),
	}

	s.server = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.RateLimit(handler)))
	}

	mux.Handle("/callback", withMiddleware(s.handleCallback))
	mux.Handle("/subscribe", withMiddleware(s.handleSubscribe))
	mux.Handle("/unsubscribe", withMiddleware(s.handleUnsubscribe))
	mux.Handle("/health", withMiddleware(s.handleHealth))

	return mux
}

// handleCallback routes the hub's GET verification and POST deliveries.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerification(w, r)
	case http.MethodPost:
		s.handleDelivery(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the hub's intent-verification challenge.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body, ok := s.hub.VerifyChallenge(q.Get("hub.secret"), q.Get("hub.mode"), q.Get("hub.challenge"))
	if !ok {
		log.Warn("Rejected hub verification", "mode", q.Get("hub.mode"))
		writeError(w, "Verification rejected", http.StatusBadRequest)
		return
	}

	// The challenge must be echoed byte-for-byte
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

// handleDelivery accepts one event delivery from the hub.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, "Error reading body", http.StatusBadRequest)
		return
	}

	// The hub does not sign deliveries by default; when a signature header
	// is present we hold it to the handshake secret.
	if sig := r.Header.Get("X-Hub-Signature"); sig != "" {
		if !validSignature(sig, body, s.cfg.HubSecret) {
			log.Warn("Rejected delivery with bad signature")
			writeError(w, "Invalid signature", http.StatusBadRequest)
			return
		}
	}

	res := s.processor.Handle(r.Context(), body)
	switch res.Status {
	case processor.StatusIgnored:
		writeJSON(w, map[string]any{"status": "ignored"}, http.StatusOK)
	case processor.StatusProcessed:
		writeJSON(w, map[string]any{"status": "processed", "notified": res.Notified}, http.StatusOK)
	default:
		writeError(w, "Processing failed", http.StatusInternalServerError)
	}
}

// handleSubscribe is the manual subscription trigger.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	s.handleHubAction(w, r, "subscribed", s.hub.Subscribe)
}

// handleUnsubscribe is the manual unsubscription trigger.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	s.handleHubAction(w, r, "unsubscribed", s.hub.Unsubscribe)
}

func (s *Server) handleHubAction(w http.ResponseWriter, r *http.Request, verb string, action func(context.Context) error) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := action(r.Context()); err != nil {
		status := http.StatusBadGateway
		if strings.Contains(err.Error(), "not configured") {
			status = http.StatusInternalServerError
		}
		log.Error("Hub request failed", "action", verb, "err", err)
		writeJSON(w, map[string]any{"status": "error", "error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{"status": verb, "topic": s.hub.Topic()}, http.StatusOK)
}

// handleHealth reports the relay's configuration and credential state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"network":    s.cfg.Network,
		"lock":       s.cfg.LockAddress,
		"callback":   s.cfg.CallbackURL,
		"credential": s.creds.HasCredential(),
	}, http.StatusOK)
}

func validSignature(header string, body []byte, secret string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	want, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hmac.Equal(want, h.Sum(nil))
}

// Helper methods

// writeError writes an error response as JSON.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]any{"error": http.StatusText(statusCode), "message": message}, statusCode)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
