// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetSelector is either a single bare name ("vm-01") or a
// TargetSelectorConfig, matching the original's untagged enum
// `Single(String) | Advanced(TargetSelectorConfig)`. Go has no untagged
// union sugar, so unmarshaling tries a plain string first and falls back
// to the struct form.
type TargetSelector struct {
	single   string
	advanced *TargetSelectorConfig
}

// NewSingleTarget builds a TargetSelector selecting exactly one name.
func NewSingleTarget(name string) *TargetSelector {
	return &TargetSelector{single: name}
}

// NewAdvancedTarget builds a TargetSelector from a full config.
func NewAdvancedTarget(cfg TargetSelectorConfig) *TargetSelector {
	return &TargetSelector{advanced: &cfg}
}

func (s *TargetSelector) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.single, s.advanced = str, nil
		return nil
	}
	var cfg TargetSelectorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("target selector is neither a string nor an object: %w", err)
	}
	s.advanced, s.single = &cfg, ""
	return nil
}

func (s TargetSelector) MarshalJSON() ([]byte, error) {
	if s.advanced != nil {
		return json.Marshal(s.advanced)
	}
	return json.Marshal(s.single)
}

// UnmarshalYAML mirrors UnmarshalJSON for yaml.v3's node-based
// Unmarshaler: try a scalar string, then fall back to the mapping form.
func (s *TargetSelector) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		s.single, s.advanced = str, nil
		return nil
	}
	var cfg TargetSelectorConfig
	if err := value.Decode(&cfg); err != nil {
		return fmt.Errorf("target selector is neither a string nor a mapping: %w", err)
	}
	s.advanced, s.single = &cfg, ""
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (s TargetSelector) MarshalYAML() (any, error) {
	if s.advanced != nil {
		return s.advanced, nil
	}
	return s.single, nil
}

// IsMultiTarget reports whether this selector can match more than one
// name: true for any Advanced mode other than Single.
func (s *TargetSelector) IsMultiTarget() bool {
	if s.advanced == nil {
		return false
	}
	return s.advanced.Mode != TargetModeSingle
}

// Matches reports whether candidate is selected, applying Exclude before
// Mode dispatch exactly as the original does.
func (s *TargetSelector) Matches(candidate string) (bool, error) {
	if s.advanced == nil {
		return candidate == s.single, nil
	}
	cfg := s.advanced

	for _, ex := range cfg.Exclude {
		if candidate == ex || globMatch(ex, candidate) {
			return false, nil
		}
	}

	switch cfg.Mode {
	case TargetModeSingle:
		return candidate == cfg.Pattern, nil
	case TargetModeAll:
		return true, nil
	case TargetModePattern:
		return globMatch(cfg.Pattern, candidate), nil
	case TargetModeList:
		for _, n := range cfg.Names {
			if n == candidate {
				return true, nil
			}
		}
		return false, nil
	case TargetModeRegex:
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex pattern %q: %w", cfg.Pattern, err)
		}
		return re.MatchString(candidate), nil
	default:
		return false, fmt.Errorf("unknown target mode %q", cfg.Mode)
	}
}

// Filter returns the subset of candidates this selector matches, in their
// original order, truncated to Limit when set (> 0).
func (s *TargetSelector) Filter(candidates []string) ([]string, error) {
	var out []string
	for _, c := range candidates {
		ok, err := s.Matches(c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	if s.advanced != nil && s.advanced.Limit > 0 && len(out) > s.advanced.Limit {
		out = out[:s.advanced.Limit]
	}
	return out, nil
}

// globMatch implements the original's hand-rolled recursive glob
// matching, supporting only '*' (any run, including empty) and '?' (any
// single rune).
func globMatch(pattern, candidate string) bool {
	return globMatchHelper([]rune(pattern), []rune(candidate))
}

func globMatchHelper(pattern, candidate []rune) bool {
	if len(pattern) == 0 {
		return len(candidate) == 0
	}
	switch pattern[0] {
	case '*':
		if globMatchHelper(pattern[1:], candidate) {
			return true
		}
		for i := 0; i < len(candidate); i++ {
			if globMatchHelper(pattern[1:], candidate[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(candidate) == 0 {
			return false
		}
		return globMatchHelper(pattern[1:], candidate[1:])
	default:
		if len(candidate) == 0 || candidate[0] != pattern[0] {
			return false
		}
		return globMatchHelper(pattern[1:], candidate[1:])
	}
}

// GetHostSelector returns the effective host TargetSelector: TargetHosts
// if set, else a single-target selector built from TargetHost.
func (sc *Scenario) GetHostSelector() *TargetSelector {
	if sc.TargetHosts != nil {
		return sc.TargetHosts
	}
	return NewSingleTarget(sc.TargetHost)
}

// IsMultiHost reports whether this scenario targets more than one host.
func (sc *Scenario) IsMultiHost() bool {
	return sc.GetHostSelector().IsMultiTarget()
}

// FilterHosts applies GetHostSelector against candidates.
func (sc *Scenario) FilterHosts(candidates []string) ([]string, error) {
	return sc.GetHostSelector().Filter(candidates)
}

// GetTargetSelector returns the effective domain/VM TargetSelector:
// TargetDomains if set, else a single-target selector built from
// TargetDomain.
func (sc *Scenario) GetTargetSelector() *TargetSelector {
	if sc.TargetDomains != nil {
		return sc.TargetDomains
	}
	return NewSingleTarget(sc.TargetDomain)
}

// IsMultiTarget reports whether this scenario targets more than one
// domain/VM.
func (sc *Scenario) IsMultiTarget() bool {
	return sc.GetTargetSelector().IsMultiTarget()
}

// FilterTargets applies GetTargetSelector against candidates.
func (sc *Scenario) FilterTargets(candidates []string) ([]string, error) {
	return sc.GetTargetSelector().Filter(candidates)
}

// normalizeMode lower-cases and trims a mode string read from a legacy
// scenario file, matching the original's case-insensitive serde aliasing.
func normalizeMode(m string) TargetMode {
	return TargetMode(strings.ToLower(strings.TrimSpace(m)))
}
