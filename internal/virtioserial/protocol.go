// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package virtioserial

import (
	"encoding/json"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// Handler encodes outgoing requests and decodes incoming responses for a
// Protocol, letting callers pick a wire format without touching the
// channel itself.
type Handler interface {
	EncodeRequest(data []byte) ([]byte, error)
	DecodeResponse(data []byte) ([]byte, error)
	Name() string
}

// RawHandler passes data through unmodified both ways.
type RawHandler struct{}

func (RawHandler) EncodeRequest(data []byte) ([]byte, error)  { return data, nil }
func (RawHandler) DecodeResponse(data []byte) ([]byte, error) { return data, nil }
func (RawHandler) Name() string                               { return "raw" }

// JSONHandler wraps outgoing payloads as {RequestField: "<text>"}\n and
// unwraps incoming {ResponseField: "<text>"} objects.
type JSONHandler struct {
	RequestField  string
	ResponseField string
}

// NewJSONHandler builds a JSONHandler with spec-default field names
// ("data"/"result").
func NewJSONHandler() JSONHandler {
	return JSONHandler{RequestField: "data", ResponseField: "result"}
}

// NewCustomJSONHandler builds a JSONHandler with caller-chosen field names.
func NewCustomJSONHandler(requestField, responseField string) JSONHandler {
	return JSONHandler{RequestField: requestField, ResponseField: responseField}
}

func (h JSONHandler) EncodeRequest(data []byte) ([]byte, error) {
	encoded, err := json.Marshal(map[string]string{h.RequestField: string(data)})
	if err != nil {
		return nil, atperrors.Wrap(atperrors.KindParseError, "encode json request", err)
	}
	return append(encoded, '\n'), nil
}

func (h JSONHandler) DecodeResponse(data []byte) ([]byte, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, atperrors.Wrap(atperrors.KindParseError, "decode json response", err)
	}
	raw, ok := obj[h.ResponseField]
	if !ok {
		return nil, atperrors.New(atperrors.KindParseError, "response missing field "+h.ResponseField)
	}
	text, ok := raw.(string)
	if !ok {
		return nil, atperrors.New(atperrors.KindParseError, "response field "+h.ResponseField+" is not a string")
	}
	return []byte(text), nil
}

func (JSONHandler) Name() string { return "json" }

// receiveBufSize bounds one ReceiveRaw call backing receiveData.
const receiveBufSize = 4096

// Protocol drives a Channel through a Handler, so callers send/receive
// whole logical messages instead of raw socket bytes.
type Protocol struct {
	channel *Channel
	handler Handler
}

// NewProtocol wraps channel with handler. A nil handler defaults to RawHandler.
func NewProtocol(channel *Channel, handler Handler) *Protocol {
	if handler == nil {
		handler = RawHandler{}
	}
	return &Protocol{channel: channel, handler: handler}
}

// Connect opens the underlying channel.
func (p *Protocol) Connect() error {
	return p.channel.Connect()
}

// Disconnect closes the underlying channel.
func (p *Protocol) Disconnect() error {
	return p.channel.Disconnect()
}

// IsConnected reports the underlying channel's connectedness.
func (p *Protocol) IsConnected() bool {
	return p.channel.IsConnected()
}

// ChannelInfo exposes the wrapped channel's identity.
func (p *Protocol) ChannelInfo() ChannelInfo {
	return p.channel.Info()
}

// SendData encodes data with the handler and writes it to the channel.
func (p *Protocol) SendData(data []byte) error {
	encoded, err := p.handler.EncodeRequest(data)
	if err != nil {
		return err
	}
	return p.channel.SendRaw(encoded)
}

// SendString is SendData over text.
func (p *Protocol) SendString(text string) error {
	return p.SendData([]byte(text))
}

// ReceiveData reads one buffer's worth of bytes from the channel and
// decodes it with the handler.
func (p *Protocol) ReceiveData() ([]byte, error) {
	buf := make([]byte, receiveBufSize)
	n, err := p.channel.ReceiveRaw(buf)
	if err != nil {
		return nil, err
	}
	return p.handler.DecodeResponse(buf[:n])
}

// ReceiveString is ReceiveData decoded as text.
func (p *Protocol) ReceiveString() (string, error) {
	data, err := p.ReceiveData()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RequestResponse sends request and returns the decoded response.
func (p *Protocol) RequestResponse(request []byte) ([]byte, error) {
	if err := p.SendData(request); err != nil {
		return nil, err
	}
	return p.ReceiveData()
}
