// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipedInputsChannels(t *testing.T) (*InputsChannel, *Channel) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	srv := newTestChannel(serverConn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.SendMessage(MsgInputsInit, []byte{0x01, 0, 0, 0})
	}()

	cliRaw := newTestChannel(clientConn)
	cliRaw.connected.Store(true)
	ic, err := newInputsChannel(cliRaw)
	require.NoError(t, err)
	<-done
	return ic, srv
}

func TestInputsChannelHandleInitStoresModifiers(t *testing.T) {
	ic, _ := newPipedInputsChannels(t)
	assert.True(t, ic.KeyModifiers().ScrollLock)
}

func TestMouseButtonMaskAndID(t *testing.T) {
	assert.EqualValues(t, 1, MouseLeft.id())
	assert.EqualValues(t, 3, MouseRight.id())
	assert.EqualValues(t, MouseButtonMaskLeft, MouseLeft.mask())
	assert.EqualValues(t, MouseButtonMaskRight, MouseRight.mask())
}

func TestMousePressReleaseTracksButtonsState(t *testing.T) {
	ic, srv := newPipedInputsChannels(t)

	recv := make(chan []byte, 1)
	go func() {
		_, data, _ := srv.ReceiveMessage()
		recv <- data
	}()
	require.NoError(t, ic.MousePress(MouseLeft))
	data := <-recv
	assert.Equal(t, MouseLeft.id(), data[0])
	assert.Equal(t, MouseButtonMaskLeft, leUint32(data[1:5]))
	assert.Equal(t, MouseButtonMaskLeft, ic.ButtonsState())

	go func() {
		_, data, _ := srv.ReceiveMessage()
		recv <- data
	}()
	require.NoError(t, ic.MouseRelease(MouseLeft))
	data = <-recv
	assert.EqualValues(t, 0, leUint32(data[1:5]))
	assert.EqualValues(t, 0, ic.ButtonsState())
}

func TestSendKeyDownUpOnUnconnectedChannelErrors(t *testing.T) {
	ic := &InputsChannel{channel: NewChannel(ChannelInputs, 0)}
	assert.Error(t, ic.SendKeyDown(ScancodeEnter))
	assert.Error(t, ic.SendKeyUp(ScancodeEnter))
}

func TestCharToScancode(t *testing.T) {
	sc, ok := charToScancode('a')
	assert.True(t, ok)
	assert.EqualValues(t, 0x1E, sc)

	sc, ok = charToScancode('A')
	assert.True(t, ok)
	assert.EqualValues(t, 0x1E, sc)

	sc, ok = charToScancode('1')
	assert.True(t, ok)
	assert.EqualValues(t, 0x02, sc)

	sc, ok = charToScancode(' ')
	assert.True(t, ok)
	assert.EqualValues(t, 0x39, sc)

	_, ok = charToScancode('€')
	assert.False(t, ok)
}

func TestMotionAckPendingDecrementsInBunches(t *testing.T) {
	ic, srv := newPipedInputsChannels(t)

	for i := 0; i < 10; i++ {
		go func() { _, _, _ = srv.ReceiveMessage() }()
		require.NoError(t, ic.SendMouseMotion(1, 1))
	}
	assert.EqualValues(t, 10, ic.MotionAckPending())

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, srv.SendMessage(MsgInputsMouseMotionAck, nil))
	}()
	require.NoError(t, ic.ProcessEvents())
	<-done
	assert.EqualValues(t, 2, ic.MotionAckPending())
}
