// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package virtioserial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawHandlerRoundTrip(t *testing.T) {
	h := RawHandler{}
	data := []byte("test data")

	encoded, err := h.EncodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, data, encoded)

	decoded, err := h.DecodeResponse(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
	assert.Equal(t, "raw", h.Name())
}

func TestJSONHandlerEncodeRequestWrapsDefaultField(t *testing.T) {
	h := NewJSONHandler()
	encoded, err := h.EncodeRequest([]byte("test message"))
	require.NoError(t, err)
	s := string(encoded)
	assert.Contains(t, s, `"data":"test message"`)
	assert.Equal(t, byte('\n'), encoded[len(encoded)-1])
	assert.Equal(t, "json", h.Name())
}

func TestJSONHandlerDecodeResponseUnwrapsDefaultField(t *testing.T) {
	h := NewJSONHandler()
	decoded, err := h.DecodeResponse([]byte(`{"result": "success"}`))
	require.NoError(t, err)
	assert.Equal(t, "success", string(decoded))
}

func TestJSONHandlerCustomFieldNames(t *testing.T) {
	h := NewCustomJSONHandler("req", "resp")
	encoded, err := h.EncodeRequest([]byte("hi"))
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"req":"hi"`)

	decoded, err := h.DecodeResponse([]byte(`{"resp": "bye"}`))
	require.NoError(t, err)
	assert.Equal(t, "bye", string(decoded))
}

func TestJSONHandlerDecodeResponseMissingFieldErrors(t *testing.T) {
	h := NewJSONHandler()
	_, err := h.DecodeResponse([]byte(`{"other": "x"}`))
	assert.Error(t, err)
}

func TestJSONHandlerDecodeResponseInvalidJSONErrors(t *testing.T) {
	h := NewJSONHandler()
	_, err := h.DecodeResponse([]byte("not json"))
	assert.Error(t, err)
}

func TestProtocolRequestResponseWithRawHandler(t *testing.T) {
	ln, sockPath := listenUnix(t)

	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		_, err = conn.Write(buf[:n])
		require.NoError(t, err)
	}()

	p := NewProtocol(New("test", sockPath), nil)
	require.NoError(t, p.Connect())
	defer p.Disconnect()

	resp, err := p.RequestResponse([]byte("echo"))
	require.NoError(t, err)
	assert.Equal(t, "echo", string(resp))
}

func TestProtocolSendStringWithJSONHandler(t *testing.T) {
	ln, sockPath := listenUnix(t)

	recv := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()
		buf := make([]byte, 256)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		recv <- string(buf[:n])
	}()

	p := NewProtocol(New("test", sockPath), NewJSONHandler())
	require.NoError(t, p.Connect())
	defer p.Disconnect()

	require.NoError(t, p.SendString("hello"))
	got := <-recv
	assert.Contains(t, got, `"data":"hello"`)
	assert.Equal(t, byte('\n'), got[len(got)-1])
}
