// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package vtransport

import (
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/wooveep/atp-runner/internal/verification"
)

// wsServer implements §6's WebSocket framing: the first text frame from
// the agent is its VM id; subsequent text frames are JSON objects,
// either a RawInputEvent or (legacy, ignored) a VerifyResult. Grounded
// on server.rs's run_websocket_server/handle_websocket_client, minus
// the outbound Event-push half of that loop: SPEC_FULL's architecture
// has the server match internally rather than push candidate events to
// the agent for confirmation.
type wsServer struct {
	ln       net.Listener
	upgrader websocket.Upgrader
	clients  *ClientManager
	verifier *verification.Service
	log      logr.Logger
	httpSrv  *http.Server
}

func newWSServer(ln net.Listener, clients *ClientManager, verifier *verification.Service, log logr.Logger) *wsServer {
	s := &wsServer{
		ln:       ln,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  clients,
		verifier: verifier,
		log:      log.WithName("websocket"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

func (s *wsServer) serve() {
	_ = s.httpSrv.Serve(s.ln)
}

func (s *wsServer) shutdown() {
	_ = s.httpSrv.Close()
}

func (s *wsServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.V(1).Info("websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}
	go s.handleClient(conn, r.RemoteAddr)
}

func (s *wsServer) handleClient(conn *websocket.Conn, remote string) {
	defer conn.Close()

	_, payload, err := conn.ReadMessage()
	if err != nil {
		s.log.V(1).Info("client disconnected before sending VM id", "remote", remote, "error", err.Error())
		return
	}
	vmID := string(payload)

	info := ClientInfo{VMID: vmID, ConnectedAt: time.Now(), RemoteAddr: remote}
	s.clients.RegisterClient(info)
	defer s.clients.UnregisterClient(vmID)
	s.log.Info("websocket client registered", "vmID", vmID, "remote", remote)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		raw, ok, err := classify(payload)
		if err != nil {
			s.log.V(1).Info("failed to parse inbound frame", "vmID", vmID, "error", err.Error())
			continue
		}
		if !ok {
			continue
		}
		s.verifier.FeedRawInputEvent(vmID, raw)
	}

	s.log.Info("websocket client disconnected", "vmID", vmID)
}
