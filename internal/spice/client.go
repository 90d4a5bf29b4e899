// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// clientMouseSupportedBit is bit 1 of supported_mouse_modes; set means the
// server can run in MouseModeClient (absolute position) mode.
const clientMouseSupportedBit uint32 = MouseModeClient

// ClientOptions configures a Connect call.
type ClientOptions struct {
	Host     string
	Port     uint16
	Password string

	// RequestClientMouse asks the server for absolute-position mouse mode
	// when it advertises support for it.
	RequestClientMouse bool

	// AttachInputs/AttachDisplay auto-attach those channels after the Main
	// channel's init loop completes. USB-redir is opt-in and has no flag
	// here; callers attach it explicitly via AttachUSBRedir.
	AttachInputs  bool
	AttachDisplay bool

	Log logr.Logger
}

// Client is a multi-channel SPICE session: Main channel bootstrap plus
// whichever of Inputs/Display/USB-redir have been attached, all sharing
// the Main channel's session id as their link message's connection_id.
// Ported from atp-core/protocol/src/spice/client.rs.
type Client struct {
	host     string
	port     uint16
	password string
	log      logr.Logger

	main *Channel

	mu                   sync.Mutex
	sessionID            uint32
	supportedMouseModes  uint32
	currentMouseMode     uint32
	clientMouseRequested bool
	channels             []ChannelInfo

	inputs  *InputsChannel
	display *DisplayChannel
}

// Connect opens the Main channel (channel_id=0, connection_id=0), drains
// server messages until ChannelsList arrives, then auto-attaches Inputs/
// Display per opts.
func Connect(ctx context.Context, opts ClientOptions) (*Client, error) {
	log := opts.Log
	c := &Client{
		host:                 opts.Host,
		port:                 opts.Port,
		password:             opts.Password,
		log:                  log.WithName("spice-client"),
		clientMouseRequested: opts.RequestClientMouse,
	}

	c.main = NewChannel(ChannelMain, 0)
	if err := c.main.Connect(ctx, c.host, c.port, 0, c.password); err != nil {
		return nil, atperrors.Wrap(atperrors.KindConnectionFailed, "connect spice main channel", err)
	}

	if err := c.runInitLoop(); err != nil {
		_ = c.main.Disconnect()
		return nil, err
	}

	if opts.AttachInputs {
		if err := c.AttachInputs(ctx); err != nil {
			return nil, err
		}
	}
	if opts.AttachDisplay {
		if err := c.AttachDisplay(ctx); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Client) runInitLoop() error {
	for {
		msgType, data, err := c.main.ReceiveMessage()
		if err != nil {
			return atperrors.Wrap(atperrors.KindReceiveFailed, "spice main init loop", err)
		}

		switch msgType {
		case MsgMainInit:
			init, err := ParseMsgMainInit(data)
			if err != nil {
				return atperrors.Wrap(atperrors.KindParseError, "parse spice main init", err)
			}
			c.mu.Lock()
			c.sessionID = init.SessionID
			c.supportedMouseModes = init.SupportedMouseModes
			c.currentMouseMode = init.CurrentMouseMode
			wantClientMouse := c.clientMouseRequested
			c.mu.Unlock()

			if wantClientMouse && init.SupportedMouseModes&clientMouseSupportedBit != 0 {
				if err := c.main.SendMessage(MsgcMainMouseModeRequest, EncodeMouseModeRequest(MouseModeClient)); err != nil {
					return atperrors.Wrap(atperrors.KindSendFailed, "request spice client mouse mode", err)
				}
			}

		case MsgMainChannelsList:
			list, err := ParseMsgMainChannelsList(data)
			if err != nil {
				return atperrors.Wrap(atperrors.KindParseError, "parse spice channels list", err)
			}
			c.mu.Lock()
			c.channels = list.Channels
			c.mu.Unlock()
			return nil

		case MsgMainMouseMode:
			mode, err := ParseMsgMainMouseMode(data)
			if err != nil {
				return atperrors.Wrap(atperrors.KindParseError, "parse spice mouse mode", err)
			}
			c.mu.Lock()
			c.currentMouseMode = mode.CurrentMode
			c.mu.Unlock()

		case MsgMainPing:
			if err := c.main.SendMessage(MsgcMainPong, data); err != nil {
				return atperrors.Wrap(atperrors.KindSendFailed, "reply spice ping during init", err)
			}

		default:
			c.log.V(1).Info("ignoring unrecognized main message during init", "type", msgType)
		}
	}
}

// ProcessMainEvents is the steady-state pump for the Main channel: it
// handles MouseMode updates and Ping/Pong, logging and ignoring anything
// else, until ctx is cancelled or the channel errors.
func (c *Client) ProcessMainEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, data, err := c.main.ReceiveMessage()
		if err != nil {
			return atperrors.Wrap(atperrors.KindReceiveFailed, "spice main event pump", err)
		}

		switch msgType {
		case MsgMainMouseMode:
			mode, err := ParseMsgMainMouseMode(data)
			if err != nil {
				c.log.Error(err, "dropping malformed spice mouse mode message")
				continue
			}
			c.mu.Lock()
			c.currentMouseMode = mode.CurrentMode
			c.mu.Unlock()

		case MsgMainPing:
			if err := c.main.SendMessage(MsgcMainPong, data); err != nil {
				return atperrors.Wrap(atperrors.KindSendFailed, "reply spice ping", err)
			}

		default:
			c.log.V(1).Info("ignoring unrecognized main message", "type", msgType)
		}
	}
}

// attachChannel opens a fresh SPICE channel using the Main channel's
// session id as this channel's link connection_id.
func (c *Client) attachChannel(ctx context.Context, channelType ChannelType, channelID uint8) (*Channel, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	ch := NewChannel(channelType, channelID)
	if err := ch.Connect(ctx, c.host, c.port, sessionID, c.password); err != nil {
		return nil, atperrors.Wrap(atperrors.KindConnectionFailed, "attach "+channelType.String()+" channel", err)
	}
	return ch, nil
}

// AttachInputs opens the Inputs channel (id=0) and stores it for
// Client.Inputs to return.
func (c *Client) AttachInputs(ctx context.Context) error {
	ch, err := c.attachChannel(ctx, ChannelInputs, 0)
	if err != nil {
		return err
	}
	inputs, err := newInputsChannel(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.inputs = inputs
	c.mu.Unlock()
	return nil
}

// AttachDisplay opens the Display channel (id=0) and stores it for
// Client.Display to return.
func (c *Client) AttachDisplay(ctx context.Context) error {
	ch, err := c.attachChannel(ctx, ChannelDisplay, 0)
	if err != nil {
		return err
	}
	display, err := newDisplayChannel(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.display = display
	c.mu.Unlock()
	return nil
}

// AttachUSBRedir opens a USB-redir channel at the given id; opt-in, never
// auto-attached. The caller owns forwarding raw USB packets over it.
func (c *Client) AttachUSBRedir(ctx context.Context, channelID uint8) (*Channel, error) {
	return c.attachChannel(ctx, ChannelUSBRedir, channelID)
}

// Inputs returns the attached Inputs channel, or nil if none was attached.
func (c *Client) Inputs() *InputsChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs
}

// Display returns the attached Display channel, or nil if none was attached.
func (c *Client) Display() *DisplayChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Info returns a point-in-time SessionInfo snapshot.
func (c *Client) Info() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionInfo{
		ConnectionID: c.sessionID,
		Channels:     append([]ChannelInfo(nil), c.channels...),
		MouseMode:    c.currentMouseMode,
	}
}

// Close disconnects the Main channel and every attached channel.
func (c *Client) Close() error {
	c.mu.Lock()
	inputs, display := c.inputs, c.display
	c.mu.Unlock()

	var firstErr error
	if inputs != nil {
		if err := inputs.channel.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if display != nil {
		if err := display.channel.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.main.Disconnect(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
