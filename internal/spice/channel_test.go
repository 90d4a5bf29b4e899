// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLinkServer performs one SPICE link handshake over conn as the
// server side: reads the LinkMessage, replies OK with derPubKey and the
// requested capability words, then reads the auth ticket. If priv is
// non-nil the ticket is RSA-OAEP/SHA-1 decrypted and compared against
// wantPassword; otherwise it is treated as an empty-ticket auth and just
// drained. Returns the error observed, if any.
func fakeLinkServer(conn net.Conn, derPubKey []byte, commonCaps []uint32, priv *rsa.PrivateKey, wantPassword string) error {
	r := bufio.NewReader(conn)

	hdrBuf := make([]byte, linkHeaderSize)
	if _, err := ioReadFull(r, hdrBuf); err != nil {
		return err
	}
	hdr, err := ParseLinkHeader(hdrBuf)
	if err != nil {
		return err
	}
	bodyBuf := make([]byte, hdr.Size)
	if _, err := ioReadFull(r, bodyBuf); err != nil {
		return err
	}

	reply := LinkReply{Error: LinkErrorOK, PubKey: derPubKey, CommonCaps: commonCaps}
	replyBody := encodeLinkReply(reply)
	replyHeader := NewLinkHeader(uint32(len(replyBody)))

	if _, err := conn.Write(replyHeader.Bytes()); err != nil {
		return err
	}
	if _, err := conn.Write(replyBody); err != nil {
		return err
	}

	ticket := make([]byte, TicketSize)
	if _, err := ioReadFull(r, ticket); err != nil {
		return err
	}

	result := uint32(0)
	if priv != nil {
		plaintext, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ticket, nil)
		if err != nil {
			result = 1
		} else {
			got := string(plaintext[:len(plaintext)-1]) // drop null terminator
			if got != wantPassword {
				result = 1
			}
		}
	}

	resultBuf := []byte{byte(result), byte(result >> 8), byte(result >> 16), byte(result >> 24)}
	_, err = conn.Write(resultBuf)
	return err
}

func encodeLinkReply(r LinkReply) []byte {
	put32 := func(b []byte, v uint32) []byte {
		return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	b := make([]byte, 0, 20+len(r.PubKey)+4*(len(r.CommonCaps)+len(r.ChannelCaps)))
	b = put32(b, r.Error)
	b = put32(b, uint32(len(r.PubKey)))
	b = append(b, r.PubKey...)
	b = put32(b, uint32(len(r.CommonCaps)))
	b = put32(b, uint32(len(r.ChannelCaps)))
	for _, c := range r.CommonCaps {
		b = put32(b, c)
	}
	for _, c := range r.ChannelCaps {
		b = put32(b, c)
	}
	return b
}

func newTestChannel(conn net.Conn) *Channel {
	c := NewChannel(ChannelMain, 0)
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return c
}

func TestPerformHandshakeWithPasswordAuth(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	require.NoError(t, err)
	derPub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- fakeLinkServer(serverConn, derPub, []uint32{CommonCapMiniHeader}, priv, "s3cr3t")
	}()

	c := newTestChannel(clientConn)
	err = c.performHandshake("s3cr3t")
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.True(t, c.useMiniHeader.Load())
}

func TestPerformHandshakeWithWrongPasswordFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	require.NoError(t, err)
	derPub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	go func() {
		_ = fakeLinkServer(serverConn, derPub, nil, priv, "correct-password")
	}()

	c := newTestChannel(clientConn)
	err = c.performHandshake("wrong-password")
	assert.Error(t, err)
}

func TestPerformHandshakeWithEmptyAuth(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- fakeLinkServer(serverConn, nil, nil, nil, "")
	}()

	c := newTestChannel(clientConn)
	err := c.performHandshake("")
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.False(t, c.useMiniHeader.Load())
}

func TestSendReceiveMessageMiniHeader(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := newTestChannel(clientConn)
	c.useMiniHeader.Store(true)
	c.connected.Store(true)

	srv := newTestChannel(serverConn)
	srv.useMiniHeader.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		msgType, data, err := srv.ReceiveMessage()
		assert.NoError(t, err)
		assert.Equal(t, MsgcMainPong, msgType)
		assert.Equal(t, []byte("payload"), data)
	}()

	require.NoError(t, c.SendMessage(MsgcMainPong, []byte("payload")))
	<-done
}

func TestSendReceiveMessageFullHeaderIncrementsSerial(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := newTestChannel(clientConn)
	c.connected.Store(true)

	srv := newTestChannel(serverConn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := srv.ReceiveMessage()
		assert.NoError(t, err)
		_, _, err = srv.ReceiveMessage()
		assert.NoError(t, err)
	}()

	require.NoError(t, c.SendMessage(MsgMainPing, nil))
	require.NoError(t, c.SendMessage(MsgMainPing, nil))
	<-done
	assert.EqualValues(t, 3, c.serial.Load())
}

func TestSendMessageOnUnconnectedChannelErrors(t *testing.T) {
	c := NewChannel(ChannelInputs, 0)
	err := c.SendMessage(MsgcInputsKeyDown, nil)
	assert.Error(t, err)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	c := newTestChannel(clientConn)
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
}
