// Package control is an optional HTTP/3 control-and-status server a host
// application can run alongside a Session: it exposes the session's
// state, latest progress, and registered plugins as JSON, and accepts a
// stop request. Clients pin the self-signed certificate's fingerprint,
// surfaced by the /api/cert endpoint over the same listener.
package control

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/vantapoint/ovi/internal/certs"
	"github.com/vantapoint/ovi/internal/registry"
)

// Status is the session-facing surface the server reads. The host wires
// it to its Session and progress bookkeeping.
type Status interface {
	StateString() string
	ProgressString() string
	Plugins() []registry.Summary
	Stop() error
}

// Config holds the server's listen address, TLS certificate, and the
// status source.
type Config struct {
	Addr   string
	Cert   *certs.Cert
	Status Status
}

// Server serves the control API over HTTP/3.
type Server struct {
	log *slog.Logger
	cfg Config
	h3  *http3.Server
}

// NewServer validates cfg and returns a Server ready to Start.
func NewServer(log *slog.Logger, cfg Config) (*Server, error) {
	if cfg.Cert == nil {
		return nil, errors.New("control: Cert is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("control: Addr is required")
	}
	if cfg.Status == nil {
		return nil, errors.New("control: Status is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log.With("component", "control"), cfg: cfg}, nil
}

type stateResponse struct {
	State    string `json:"state"`
	Progress string `json:"progress,omitempty"`
}

type pluginResponse struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type certResponse struct {
	Hash     string    `json:"hash"`
	NotAfter time.Time `json:"notAfter"`
}

// Handler returns the control API routes, exported so a host can also
// mount them on a plain HTTPS server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, stateResponse{
			State:    s.cfg.Status.StateString(),
			Progress: s.cfg.Status.ProgressString(),
		})
	})
	mux.HandleFunc("GET /api/plugins", func(w http.ResponseWriter, _ *http.Request) {
		out := []pluginResponse{}
		for _, p := range s.cfg.Status.Plugins() {
			out = append(out, pluginResponse{UID: p.UID, Name: p.Name, Type: p.Type.String()})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("GET /api/cert", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, certResponse{
			Hash:     s.cfg.Cert.FingerprintBase64(),
			NotAfter: s.cfg.Cert.NotAfter,
		})
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, _ *http.Request) {
		if err := s.cfg.Status.Stop(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

// Start listens for HTTP/3 requests until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.h3 = &http3.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{s.cfg.Cert.TLSCert},
		},
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}

	s.log.Info("control server listening", "addr", s.cfg.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
