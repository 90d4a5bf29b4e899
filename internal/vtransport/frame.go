// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package vtransport

import (
	"encoding/json"

	"github.com/wooveep/atp-runner/internal/verification"
)

const maxVMIDLen = 256

// inboundEnvelope covers both shapes spec.md §6 allows on an inbound
// frame: a RawInputEvent (identified by its "name" field, which
// VerifyResult never carries) or a legacy VerifyResult report. The new
// architecture (internal/verification.Service matches internally) never
// needs an agent-reported VerifyResult, so one is accepted for protocol
// compatibility but otherwise ignored.
type inboundEnvelope struct {
	EventType string `json:"event_type"`
	Name      string `json:"name"`
	Code      int32  `json:"code"`
	Value     int32  `json:"value"`

	EventID  string `json:"event_id"`
	Verified bool   `json:"verified"`
}

// classify reports whether payload decodes as a RawInputEvent, and if
// so, returns it.
func classify(payload []byte) (verification.RawInputEvent, bool, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return verification.RawInputEvent{}, false, err
	}
	if env.Name == "" {
		// No "name" field: either a legacy VerifyResult or junk. Either
		// way it isn't a RawInputEvent for FeedRawInputEvent.
		return verification.RawInputEvent{}, false, nil
	}
	return verification.RawInputEvent{
		EventType: env.EventType,
		Name:      env.Name,
		Code:      env.Code,
		Value:     env.Value,
	}, true, nil
}
