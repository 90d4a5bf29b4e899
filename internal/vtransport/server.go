// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package vtransport

import (
	"net"

	"github.com/go-logr/logr"

	"github.com/wooveep/atp-runner/internal/verification"
	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// Config addresses the two listeners a Server opens, matching
// server.rs's ServerConfig defaults.
type Config struct {
	WSAddr  string
	TCPAddr string
}

// DefaultConfig matches server.rs's Default impl (0.0.0.0:8765/8766).
func DefaultConfig() Config {
	return Config{WSAddr: "0.0.0.0:8765", TCPAddr: "0.0.0.0:8766"}
}

// Server runs the WebSocket and TCP verification-transport listeners,
// routing RawInputEvent frames into a verification.Service and tracking
// connected agents in a ClientManager.
type Server struct {
	cfg     Config
	clients *ClientManager
	log     logr.Logger

	wsLn  net.Listener
	tcpLn net.Listener
	ws    *wsServer
	tcp   *tcpServer
}

// NewServer binds both listeners but does not yet accept connections;
// call Start to begin serving. Either address may be empty to disable
// that listener, matching server.rs's Option<SocketAddr> fields.
func NewServer(cfg Config, verifier *verification.Service, log logr.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		clients: NewClientManager(),
		log:     log.WithName("vtransport"),
	}

	if cfg.WSAddr != "" {
		ln, err := net.Listen("tcp", cfg.WSAddr)
		if err != nil {
			return nil, atperrors.Wrap(atperrors.KindConnectionFailed, "failed to bind websocket listener", err)
		}
		s.wsLn = ln
		s.ws = newWSServer(ln, s.clients, verifier, s.log)
	}

	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			if s.wsLn != nil {
				_ = s.wsLn.Close()
			}
			return nil, atperrors.Wrap(atperrors.KindConnectionFailed, "failed to bind tcp listener", err)
		}
		s.tcpLn = ln
		s.tcp = newTCPServer(ln, s.clients, verifier, s.log)
	}

	return s, nil
}

// Start accepts connections on both listeners until Stop is called.
// It does not block.
func (s *Server) Start() {
	if s.ws != nil {
		go s.ws.serve()
		s.log.Info("websocket verification transport listening", "addr", s.cfg.WSAddr)
	}
	if s.tcp != nil {
		go s.tcp.serve()
		s.log.Info("tcp verification transport listening", "addr", s.cfg.TCPAddr)
	}
}

// Stop closes both listeners, ending their accept loops.
func (s *Server) Stop() {
	if s.ws != nil {
		s.ws.shutdown()
	}
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
}

// Clients exposes the underlying ClientManager, e.g. for metrics.
func (s *Server) Clients() *ClientManager {
	return s.clients
}
