// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: login-flow
description: basic smoke test
target_host: host-a
target_domains:
  mode: pattern
  pattern: "win10-*"
  limit: 2
verification:
  ws_addr: "0.0.0.0:8765"
  vm_id: vm-01
input_channel:
  channel_type: qmp
steps:
  - name: send-username
    action:
      type: send_text
      text: administrator
  - name: press-enter
    action:
      type: send_key
      key: Return
tags: [smoke, login]
`

func TestFromYAMLParsesFullScenario(t *testing.T) {
	sc, err := FromYAML([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "login-flow", sc.Name)
	assert.Equal(t, "host-a", sc.TargetHost)
	require.NotNil(t, sc.TargetDomains)
	assert.True(t, sc.IsMultiTarget())
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, ActionSendText, sc.Steps[0].Action.Type)
	assert.Equal(t, "administrator", sc.Steps[0].Action.Text)
	assert.Equal(t, ActionSendKey, sc.Steps[1].Action.Type)
	assert.Equal(t, "Return", sc.Steps[1].Action.Key)
	assert.Equal(t, []string{"smoke", "login"}, sc.Tags)
	assert.Equal(t, 10, sc.Parallel.MaxConcurrent, "unset parallel config gets the original's default of 10")
	assert.Equal(t, FailureContinue, sc.Parallel.OnFailure)
}

func TestFromYAMLDefaultsInputChannel(t *testing.T) {
	sc, err := FromYAML([]byte(`
name: minimal
target_host: host-a
target_domain: vm-01
steps: []
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultInputChannelConfig(), sc.InputChannel)
}

func TestToYAMLRoundTrips(t *testing.T) {
	sc, err := FromYAML([]byte(sampleYAML))
	require.NoError(t, err)

	out, err := sc.ToYAML()
	require.NoError(t, err)

	reparsed, err := FromYAML(out)
	require.NoError(t, err)
	assert.Equal(t, sc.Name, reparsed.Name)
	assert.Equal(t, sc.Steps, reparsed.Steps)
}

func TestFromJSONParsesScenario(t *testing.T) {
	sc, err := FromJSON([]byte(`{"name":"j","target_host":"h","target_domain":"v","steps":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "j", sc.Name)
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
