// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// FromYAML parses scenario YAML, matching the original's serde_yaml path.
func FromYAML(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, atperrors.Wrap(atperrors.KindScenarioLoadFailed, "parse scenario yaml", err)
	}
	sc.applyDefaults()
	return &sc, nil
}

// FromJSON parses scenario JSON, matching the original's serde_json path.
func FromJSON(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, atperrors.Wrap(atperrors.KindScenarioLoadFailed, "parse scenario json", err)
	}
	sc.applyDefaults()
	return &sc, nil
}

// LoadFile reads a scenario file, choosing the YAML or JSON decoder by
// extension (.yaml/.yml vs .json), matching the original's
// Scenario::load_from_file dispatch.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, atperrors.Wrap(atperrors.KindScenarioLoadFailed, fmt.Sprintf("read %s", path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FromJSON(data)
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return nil, atperrors.New(atperrors.KindScenarioLoadFailed, fmt.Sprintf("unrecognized scenario file extension: %s", path))
	}
}

// ToYAML serializes the scenario back to YAML.
func (sc *Scenario) ToYAML() ([]byte, error) {
	return yaml.Marshal(sc)
}

// ToJSON serializes the scenario back to JSON.
func (sc *Scenario) ToJSON() ([]byte, error) {
	return json.MarshalIndent(sc, "", "  ")
}

// applyDefaults fills zero-valued fields with the original's #[serde(default)]
// defaults so a minimal scenario file still behaves correctly.
func (sc *Scenario) applyDefaults() {
	if sc.InputChannel.ChannelType == "" {
		sc.InputChannel = DefaultInputChannelConfig()
	} else {
		if sc.InputChannel.KeyDelayMs == 0 {
			sc.InputChannel.KeyDelayMs = 50
		}
		if sc.InputChannel.KeyHoldMs == 0 {
			sc.InputChannel.KeyHoldMs = 100
		}
	}
	if sc.Parallel.MaxConcurrent == 0 {
		sc.Parallel.MaxConcurrent = 10
	}
	if sc.Parallel.OnFailure == "" {
		sc.Parallel.OnFailure = FailureContinue
	}
	if sc.TargetHosts != nil && sc.TargetHosts.advanced != nil {
		sc.TargetHosts.advanced.Mode = normalizeMode(string(sc.TargetHosts.advanced.Mode))
	}
	if sc.TargetDomains != nil && sc.TargetDomains.advanced != nil {
		sc.TargetDomains.advanced.Mode = normalizeMode(string(sc.TargetDomains.advanced.Mode))
	}
}
