// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package vtransport

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/go-logr/logr"

	"github.com/wooveep/atp-runner/internal/verification"
)

const maxTCPFrameLen = 10 * 1024 * 1024

// tcpServer implements §6's length-prefixed TCP framing: u32
// big-endian length || UTF-8 JSON, first frame after connect is the VM
// id in the same framing. Grounded on server.rs's handle_tcp_client,
// collapsed to one read loop since Go's net.Conn needs no
// into_split-style read/write half separation to be used concurrently.
type tcpServer struct {
	ln       net.Listener
	clients  *ClientManager
	verifier *verification.Service
	log      logr.Logger
}

func newTCPServer(ln net.Listener, clients *ClientManager, verifier *verification.Service, log logr.Logger) *tcpServer {
	return &tcpServer{ln: ln, clients: clients, verifier: verifier, log: log.WithName("tcp")}
}

func (s *tcpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *tcpServer) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()

	vmID, err := readLengthPrefixed(conn, maxVMIDLen)
	if err != nil {
		s.log.V(1).Info("client disconnected before sending VM id", "remote", remote, "error", err.Error())
		return
	}

	info := ClientInfo{VMID: string(vmID), ConnectedAt: time.Now(), RemoteAddr: remote}
	s.clients.RegisterClient(info)
	defer s.clients.UnregisterClient(info.VMID)
	s.log.Info("tcp client registered", "vmID", info.VMID, "remote", remote)

	for {
		payload, err := readLengthPrefixed(conn, maxTCPFrameLen)
		if err != nil {
			if err != io.EOF {
				s.log.V(1).Info("tcp client read error", "vmID", info.VMID, "error", err.Error())
			}
			break
		}

		raw, ok, err := classify(payload)
		if err != nil {
			s.log.V(1).Info("failed to parse inbound frame", "vmID", info.VMID, "error", err.Error())
			continue
		}
		if !ok {
			continue
		}
		s.verifier.FeedRawInputEvent(info.VMID, raw)
	}

	s.log.Info("tcp client disconnected", "vmID", info.VMID)
}

func readLengthPrefixed(r io.Reader, maxLen int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxLen {
		return nil, io.ErrShortBuffer
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
