// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkHeaderRoundTrip(t *testing.T) {
	h := NewLinkHeader(42)
	parsed, err := ParseLinkHeader(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.True(t, parsed.IsValid())
}

func TestLinkHeaderRejectsBadMagic(t *testing.T) {
	h := LinkHeader{Magic: 0xdeadbeef}
	assert.False(t, h.IsValid())
}

func TestLinkMessageBytesLayout(t *testing.T) {
	m := NewLinkMessage(ChannelInputs, 7)
	m.ConnectionID = 99
	b := m.Bytes()
	require.Len(t, b, linkMessageHeaderSize)
	assert.EqualValues(t, 99, b[0])
	assert.EqualValues(t, ChannelInputs, b[4])
	assert.EqualValues(t, 7, b[5])
}

func TestParseLinkReplyDecodesCapabilities(t *testing.T) {
	pubKey := []byte{1, 2, 3, 4}
	b := make([]byte, 0)
	put32 := func(v uint32) {
		b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	put32(LinkErrorOK)
	put32(uint32(len(pubKey)))
	b = append(b, pubKey...)
	put32(1) // num common caps
	put32(1) // num channel caps
	put32(CommonCapMiniHeader)
	put32(0xabcd)

	reply, err := ParseLinkReply(b)
	require.NoError(t, err)
	assert.True(t, reply.IsOK())
	assert.Equal(t, pubKey, reply.PubKey)
	assert.Equal(t, []uint32{CommonCapMiniHeader}, reply.CommonCaps)
	assert.Equal(t, []uint32{0xabcd}, reply.ChannelCaps)
	assert.True(t, reply.HasMiniHeaderCap())
}

func TestParseLinkReplyTooShort(t *testing.T) {
	_, err := ParseLinkReply([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDataHeaderRoundTrip(t *testing.T) {
	h := NewDataHeader(MsgMainPing, 16)
	h.Serial = 5
	parsed, err := ParseDataHeader(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestMiniDataHeaderRoundTrip(t *testing.T) {
	h := NewMiniDataHeader(MsgcMainPong, 0)
	parsed, err := ParseMiniDataHeader(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestKeyModifiersFlagsRoundTrip(t *testing.T) {
	s := KeyModifiersState{ScrollLock: true, CapsLock: true}
	got := KeyModifiersFromFlags(s.Flags())
	assert.Equal(t, s, got)
}

func TestMouseButtonsFlagsRoundTrip(t *testing.T) {
	m := MouseButtonsMask{Left: true, Right: true, Extra: true}
	got := MouseButtonsFromFlags(m.Flags())
	assert.Equal(t, m, got)
}

func TestChannelTypeString(t *testing.T) {
	assert.Equal(t, "inputs", ChannelInputs.String())
	assert.Equal(t, "unknown", ChannelType(200).String())
}
