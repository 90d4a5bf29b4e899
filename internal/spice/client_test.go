// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"context"
	"net"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

// fakeMainServer accepts one TCP connection, performs the link handshake
// with empty auth, then plays MainInit/ChannelsList before returning.
func fakeMainServer(t *testing.T, ln net.Listener, channels []ChannelInfo) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, fakeLinkServer(conn, nil, []uint32{CommonCapMiniHeader}, nil, ""))

	srv := newTestChannel(conn)
	srv.useMiniHeader.Store(true)

	initBody := make([]byte, 32)
	putLE32(initBody[0:4], 42) // session id
	require.NoError(t, srv.SendMessage(MsgMainInit, initBody))

	listBody := make([]byte, 4+2*len(channels))
	putLE32(listBody[0:4], uint32(len(channels)))
	off := 4
	for _, c := range channels {
		listBody[off] = uint8(c.ChannelType)
		listBody[off+1] = c.ChannelID
		off += 2
	}
	require.NoError(t, srv.SendMessage(MsgMainChannelsList, listBody))
}

func listenOnLoopback(t *testing.T) (net.Listener, string, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	return ln, "127.0.0.1", uint16(addr.Port)
}

func TestClientConnectRunsInitLoopToChannelsList(t *testing.T) {
	ln, host, port := listenOnLoopback(t)
	defer ln.Close()

	channels := []ChannelInfo{{ChannelType: ChannelInputs, ChannelID: 0}, {ChannelType: ChannelDisplay, ChannelID: 0}}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeMainServer(t, ln, channels)
	}()

	c, err := Connect(context.Background(), ClientOptions{Host: host, Port: port, Log: logr.Discard()})
	require.NoError(t, err)
	defer c.Close()

	<-done
	info := c.Info()
	require.EqualValues(t, 42, info.ConnectionID)
	require.Len(t, info.Channels, 2)
}

func TestClientConnectRespondsToPingDuringInit(t *testing.T) {
	ln, host, port := listenOnLoopback(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, fakeLinkServer(conn, nil, nil, nil, ""))

		srv := newTestChannel(conn)
		require.NoError(t, srv.SendMessage(MsgMainPing, []byte("abcd")))
		_, data, err := srv.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, []byte("abcd"), data)

		initBody := make([]byte, 32)
		require.NoError(t, srv.SendMessage(MsgMainInit, initBody))
		listBody := make([]byte, 4)
		require.NoError(t, srv.SendMessage(MsgMainChannelsList, listBody))
	}()

	c, err := Connect(context.Background(), ClientOptions{Host: host, Port: port, Log: logr.Discard()})
	require.NoError(t, err)
	defer c.Close()
	<-done
}

func TestProcessMainEventsReturnsErrorWhenServerCloses(t *testing.T) {
	ln, host, port := listenOnLoopback(t)
	defer ln.Close()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		conn, err := ln.Accept()
		require.NoError(t, err)
		require.NoError(t, fakeLinkServer(conn, nil, nil, nil, ""))
		srv := newTestChannel(conn)
		initBody := make([]byte, 32)
		require.NoError(t, srv.SendMessage(MsgMainInit, initBody))
		require.NoError(t, srv.SendMessage(MsgMainChannelsList, make([]byte, 4)))
		conn.Close()
	}()

	c, err := Connect(context.Background(), ClientOptions{Host: host, Port: port, Log: logr.Discard()})
	require.NoError(t, err)
	defer c.Close()
	<-acceptDone

	err = c.ProcessMainEvents(context.Background())
	require.Error(t, err)
}
