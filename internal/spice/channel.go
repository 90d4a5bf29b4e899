// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// Channel is one TCP socket's worth of SPICE protocol, agnostic to which
// channel type it carries. Ported from
// atp-core/protocol/src/spice/channel.rs's ChannelConnection.
type Channel struct {
	channelType  ChannelType
	channelID    uint8
	connectionID uint32

	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	readMu  sync.Mutex

	serial        atomic.Uint64
	useMiniHeader atomic.Bool
	connected     atomic.Bool
}

// NewChannel builds an unconnected Channel for the given type/id.
func NewChannel(channelType ChannelType, channelID uint8) *Channel {
	c := &Channel{channelType: channelType, channelID: channelID}
	c.serial.Store(1)
	return c
}

func (c *Channel) ChannelType() ChannelType { return c.channelType }
func (c *Channel) ChannelID() uint8         { return c.channelID }
func (c *Channel) IsConnected() bool        { return c.connected.Load() }

// Connect dials host:port, then performs the SPICE link handshake and
// ticket auth. password == "" sends the 128-byte empty ticket.
func (c *Channel) Connect(ctx context.Context, host string, port uint16, connectionID uint32, password string) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return atperrors.Wrap(atperrors.KindConnectionFailed, fmt.Sprintf("dial spice server %s", addr), err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connectionID = connectionID

	if err := c.performHandshake(password); err != nil {
		_ = conn.Close()
		c.conn = nil
		return err
	}

	c.connected.Store(true)
	return nil
}

func (c *Channel) performHandshake(password string) error {
	linkMsg := NewLinkMessage(c.channelType, c.channelID)
	linkMsg.ConnectionID = c.connectionID
	body := linkMsg.Bytes()
	header := NewLinkHeader(uint32(len(body)))

	c.writeMu.Lock()
	_, werr := c.conn.Write(header.Bytes())
	if werr == nil {
		_, werr = c.conn.Write(body)
	}
	c.writeMu.Unlock()
	if werr != nil {
		return atperrors.Wrap(atperrors.KindSendFailed, "send spice link message", werr)
	}

	c.readMu.Lock()
	headerBuf := make([]byte, linkHeaderSize)
	_, rerr := ioReadFull(c.reader, headerBuf)
	c.readMu.Unlock()
	if rerr != nil {
		return atperrors.Wrap(atperrors.KindReceiveFailed, "read spice link header", rerr)
	}

	replyHeader, err := ParseLinkHeader(headerBuf)
	if err != nil {
		return atperrors.Wrap(atperrors.KindParseError, "parse spice link header", err)
	}
	if !replyHeader.IsValid() {
		return atperrors.New(atperrors.KindParseError, "invalid spice magic")
	}

	c.readMu.Lock()
	replyBuf := make([]byte, replyHeader.Size)
	_, rerr = ioReadFull(c.reader, replyBuf)
	c.readMu.Unlock()
	if rerr != nil {
		return atperrors.Wrap(atperrors.KindReceiveFailed, "read spice link reply", rerr)
	}

	reply, err := ParseLinkReply(replyBuf)
	if err != nil {
		return atperrors.Wrap(atperrors.KindParseError, "parse spice link reply", err)
	}
	if !reply.IsOK() {
		return atperrors.New(atperrors.KindConnectionFailed, fmt.Sprintf("spice link error: %d", reply.Error))
	}

	if password != "" {
		if err := c.sendAuth(password, reply.PubKey); err != nil {
			return err
		}
	} else {
		if err := c.sendEmptyAuth(); err != nil {
			return err
		}
	}

	c.useMiniHeader.Store(reply.HasMiniHeaderCap())
	return nil
}

// sendAuth null-terminates password (capped at PasswordMaxLen, matching
// upstream SPICE), encrypts it with the server's RSA public key using
// OAEP/SHA-1, and reads back the 4-byte result. OAEP/SHA-1 against a
// RSAKeyBits-sized modulus bounds the plaintext well under TicketSize, so
// unlike a raw RSA ticket the cleartext here is the password itself, not a
// padded TicketSize buffer; the resulting ciphertext is exactly
// TicketSize bytes for a RSAKeyBits modulus.
func (c *Channel) sendAuth(password string, derPubKey []byte) error {
	// The wire key is a 162-byte DER blob: X.509 SubjectPublicKeyInfo
	// (PKIX), not a bare PKCS#1 RSAPublicKey (~140 bytes) — spec.md §3/§6.
	parsed, err := x509.ParsePKIXPublicKey(derPubKey)
	if err != nil {
		return atperrors.Wrap(atperrors.KindParseError, "parse spice rsa ticket public key", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return atperrors.New(atperrors.KindParseError, "spice rsa ticket public key is not RSA")
	}

	pwBytes := []byte(password)
	if len(pwBytes) > PasswordMaxLen {
		pwBytes = pwBytes[:PasswordMaxLen]
	}
	plaintext := append(append([]byte(nil), pwBytes...), 0) // null terminator

	encrypted, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return atperrors.Wrap(atperrors.KindConnectionFailed, "rsa-oaep encrypt spice ticket", err)
	}

	final := make([]byte, TicketSize)
	if len(encrypted) > TicketSize {
		return atperrors.New(atperrors.KindConnectionFailed, "spice rsa ciphertext larger than ticket size")
	}
	copy(final[TicketSize-len(encrypted):], encrypted)

	return c.writeTicketAndReadResult(final)
}

func (c *Channel) sendEmptyAuth() error {
	var ticket [TicketSize]byte
	return c.writeTicketAndReadResult(ticket[:])
}

func (c *Channel) writeTicketAndReadResult(ticket []byte) error {
	c.writeMu.Lock()
	_, err := c.conn.Write(ticket)
	c.writeMu.Unlock()
	if err != nil {
		return atperrors.Wrap(atperrors.KindSendFailed, "send spice auth ticket", err)
	}

	c.readMu.Lock()
	resultBuf := make([]byte, 4)
	_, err = ioReadFull(c.reader, resultBuf)
	c.readMu.Unlock()
	if err != nil {
		return atperrors.Wrap(atperrors.KindReceiveFailed, "read spice auth result", err)
	}

	result := leUint32(resultBuf)
	if result != 0 {
		return atperrors.New(atperrors.KindConnectionFailed, fmt.Sprintf("spice auth failed: %d", result))
	}
	return nil
}

// SendMessage writes a header (mini or full, per negotiated caps) plus
// payload, and flushes. The full header's serial is a per-channel
// monotonic counter starting at 1.
func (c *Channel) SendMessage(msgType uint16, data []byte) error {
	if c.conn == nil {
		return atperrors.New(atperrors.KindConnectionFailed, "channel not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var headerBytes []byte
	if c.useMiniHeader.Load() {
		headerBytes = NewMiniDataHeader(msgType, uint32(len(data))).Bytes()
	} else {
		serial := c.serial.Add(1) - 1
		dh := NewDataHeader(msgType, uint32(len(data)))
		dh.Serial = serial
		headerBytes = dh.Bytes()
	}

	if _, err := c.conn.Write(headerBytes); err != nil {
		return atperrors.Wrap(atperrors.KindSendFailed, "write spice message header", err)
	}
	if len(data) > 0 {
		if _, err := c.conn.Write(data); err != nil {
			return atperrors.Wrap(atperrors.KindSendFailed, "write spice message body", err)
		}
	}
	return nil
}

// ReceiveMessage reads one header (mini or full) then its payload.
func (c *Channel) ReceiveMessage() (uint16, []byte, error) {
	if c.conn == nil {
		return 0, nil, atperrors.New(atperrors.KindConnectionFailed, "channel not connected")
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	var msgType uint16
	var size uint32

	if c.useMiniHeader.Load() {
		buf := make([]byte, MiniDataHeaderSize)
		if _, err := ioReadFull(c.reader, buf); err != nil {
			return 0, nil, atperrors.Wrap(atperrors.KindReceiveFailed, "read spice mini header", err)
		}
		h, err := ParseMiniDataHeader(buf)
		if err != nil {
			return 0, nil, atperrors.Wrap(atperrors.KindParseError, "parse spice mini header", err)
		}
		msgType, size = h.MsgType, h.Size
	} else {
		buf := make([]byte, DataHeaderSize)
		if _, err := ioReadFull(c.reader, buf); err != nil {
			return 0, nil, atperrors.Wrap(atperrors.KindReceiveFailed, "read spice data header", err)
		}
		h, err := ParseDataHeader(buf)
		if err != nil {
			return 0, nil, atperrors.Wrap(atperrors.KindParseError, "parse spice data header", err)
		}
		msgType, size = h.MsgType, h.Size
	}

	data := make([]byte, size)
	if size > 0 {
		if _, err := ioReadFull(c.reader, data); err != nil {
			return 0, nil, atperrors.Wrap(atperrors.KindReceiveFailed, "read spice message body", err)
		}
	}
	return msgType, data, nil
}

// Disconnect closes the underlying TCP connection.
func (c *Channel) Disconnect() error {
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ioReadFull is bufio/io.ReadFull without importing "io" twice across
// this file's other helpers; kept here since every caller above reads
// into a pre-sized buffer.
func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
