// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package virtioserial discovers and drives a virtio-serial Unix-domain
// socket channel to a guest agent (e.g. org.qemu.guest_agent.0,
// com.vmagent.sock), with a pluggable request/response codec on top.
package virtioserial

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net"
	"sync"
	"time"

	"libvirt.org/go/libvirtxml"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// maxLineSize bounds ReceiveLine so a misbehaving peer that never sends a
// newline can't grow the buffer without limit.
const maxLineSize = 1 << 20 // 1 MiB

// ChannelInfo describes a discovered or manually-configured virtio-serial
// channel.
type ChannelInfo struct {
	Name       string
	SocketPath string
	Connected  bool
}

// Channel is a connected (or connectable) virtio-serial Unix socket.
type Channel struct {
	mu   sync.Mutex
	info ChannelInfo
	conn net.Conn
}

// New builds a Channel that will dial socketPath on Connect.
func New(name, socketPath string) *Channel {
	return &Channel{info: ChannelInfo{Name: name, SocketPath: socketPath}}
}

// DiscoverFromDomainXML finds the Unix socket path backing the
// <channel type='unix'> device whose <target name=channelName/> matches,
// by parsing the libvirt domain XML with libvirtxml rather than scanning
// lines by hand.
func DiscoverFromDomainXML(domainXML []byte, channelName string) (*Channel, error) {
	var dom libvirtxml.Domain
	if err := xml.Unmarshal(domainXML, &dom); err != nil {
		return nil, atperrors.Wrap(atperrors.KindParseError, "parse domain xml", err)
	}

	for _, ch := range dom.Devices.Channels {
		if ch.Target == nil || ch.Target.VirtIO == nil || ch.Target.VirtIO.Name != channelName {
			continue
		}
		if ch.Source == nil || ch.Source.UNIX == nil || ch.Source.UNIX.Path == "" {
			continue
		}
		return New(channelName, ch.Source.UNIX.Path), nil
	}
	return nil, atperrors.New(atperrors.KindConnectionFailed, fmt.Sprintf("no virtio-serial channel named %q in domain xml", channelName))
}

// Connect dials the channel's Unix socket.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := net.Dial("unix", c.info.SocketPath)
	if err != nil {
		return atperrors.Wrap(atperrors.KindConnectionFailed, fmt.Sprintf("dial virtio-serial socket %s", c.info.SocketPath), err)
	}
	c.conn = conn
	c.info.Connected = true
	return nil
}

// Disconnect closes the underlying socket, if any.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.info.Connected = false
	if err != nil {
		return atperrors.Wrap(atperrors.KindConnectionFailed, "disconnect virtio-serial channel", err)
	}
	return nil
}

// Info returns a snapshot of the channel's identity/connectedness.
func (c *Channel) Info() ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// IsConnected reports whether the channel currently has an open socket.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.Connected && c.conn != nil
}

// SendRaw writes data to the channel unmodified.
func (c *Channel) SendRaw(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return atperrors.New(atperrors.KindConnectionFailed, "virtio-serial channel not connected")
	}
	if _, err := conn.Write(data); err != nil {
		return atperrors.Wrap(atperrors.KindSendFailed, "write virtio-serial channel", err)
	}
	return nil
}

// SendString writes text as UTF-8 bytes.
func (c *Channel) SendString(text string) error {
	return c.SendRaw([]byte(text))
}

// ReceiveRaw reads up to len(buf) bytes into buf, returning the count read.
func (c *Channel) ReceiveRaw(buf []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, atperrors.New(atperrors.KindConnectionFailed, "virtio-serial channel not connected")
	}
	n, err := conn.Read(buf)
	if err != nil {
		return n, atperrors.Wrap(atperrors.KindReceiveFailed, "read virtio-serial channel", err)
	}
	return n, nil
}

// ReceiveLine reads until '\n' (stripped), EOF, or the 1 MiB cap.
func (c *Channel) ReceiveLine() (string, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return "", atperrors.New(atperrors.KindConnectionFailed, "virtio-serial channel not connected")
	}

	var buf bytes.Buffer
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if n > 0 {
			if one[0] == '\n' {
				return buf.String(), nil
			}
			buf.WriteByte(one[0])
			if buf.Len() > maxLineSize {
				return "", atperrors.New(atperrors.KindReceiveFailed, "virtio-serial line exceeds 1 MiB cap")
			}
		}
		if err != nil {
			return buf.String(), atperrors.Wrap(atperrors.KindReceiveFailed, "read virtio-serial line", err)
		}
	}
}

// SetDeadline is a thin pass-through so callers can bound a blocking
// ReceiveLine/ReceiveRaw with a context-derived timeout.
func (c *Channel) SetDeadline(t time.Time) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return atperrors.New(atperrors.KindConnectionFailed, "virtio-serial channel not connected")
	}
	return conn.SetDeadline(t)
}
