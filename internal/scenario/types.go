// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package scenario holds the Scenario/TargetSelector/Action data model and
// its YAML/JSON (de)serialization, grounded on
// atp-core/executor/src/scenario.rs.
package scenario

import "time"

// TargetMode selects how TargetSelectorConfig.Pattern/Names is
// interpreted.
type TargetMode string

const (
	TargetModeSingle  TargetMode = "single"
	TargetModeAll     TargetMode = "all"
	TargetModePattern TargetMode = "pattern"
	TargetModeList    TargetMode = "list"
	TargetModeRegex   TargetMode = "regex"
)

// TargetSelectorConfig is the advanced form of TargetSelector, matching
// the original's TargetSelectorConfig struct field-for-field.
type TargetSelectorConfig struct {
	Mode    TargetMode `yaml:"mode" json:"mode"`
	Pattern string     `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Names   []string   `yaml:"names,omitempty" json:"names,omitempty"`
	Exclude []string   `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	// Limit truncates the filtered result set when > 0.
	Limit int `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// InputChannelType selects which protocol engine carries input/exec
// actions for a scenario.
type InputChannelType string

const (
	InputChannelQMP   InputChannelType = "qmp"
	InputChannelSpice InputChannelType = "spice"
)

// InputChannelConfig mirrors the original's InputChannelConfig, including
// its defaults (qmp, 50ms key delay, 100ms key hold).
type InputChannelConfig struct {
	ChannelType InputChannelType `yaml:"channel_type,omitempty" json:"channel_type,omitempty"`
	KeyDelayMs  int              `yaml:"key_delay_ms,omitempty" json:"key_delay_ms,omitempty"`
	KeyHoldMs   int              `yaml:"key_hold_ms,omitempty" json:"key_hold_ms,omitempty"`
}

// DefaultInputChannelConfig matches the original Default impl.
func DefaultInputChannelConfig() InputChannelConfig {
	return InputChannelConfig{ChannelType: InputChannelQMP, KeyDelayMs: 50, KeyHoldMs: 100}
}

// VerificationConfig mirrors the original's VerificationConfig: the
// verification transport addresses a scenario's guest agent should
// connect to, plus the timeout and optional VM id / host interface
// override used when the executor itself opens the verification channel
// on the agent's behalf.
type VerificationConfig struct {
	WSAddr            string        `yaml:"ws_addr,omitempty" json:"ws_addr,omitempty"`
	TCPAddr           string        `yaml:"tcp_addr,omitempty" json:"tcp_addr,omitempty"`
	GuestVerifierPath string        `yaml:"guest_verifier_path,omitempty" json:"guest_verifier_path,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
	VMID              string        `yaml:"vm_id,omitempty" json:"vm_id,omitempty"`
	HostInterface     string        `yaml:"host_interface,omitempty" json:"host_interface,omitempty"`
}

// FailureStrategy controls what a multi-target run does when one target
// fails.
type FailureStrategy string

const (
	FailureContinue FailureStrategy = "continue"
	FailureStopAll  FailureStrategy = "stop_all"
	FailureFastFail FailureStrategy = "fail_fast"
)

// ParallelConfig mirrors the original's ParallelConfig, including its
// default of 10 concurrent targets, continue-on-failure.
type ParallelConfig struct {
	Enabled       bool            `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	MaxConcurrent int             `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	OnFailure     FailureStrategy `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// DefaultParallelConfig matches the original Default impl.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{Enabled: false, MaxConcurrent: 10, OnFailure: FailureContinue}
}

// ActionType discriminates the Action union by its "type" field, matching
// the original's serde(tag = "type") snake_case spelling.
type ActionType string

const (
	ActionSendKey     ActionType = "send_key"
	ActionSendText    ActionType = "send_text"
	ActionMouseClick  ActionType = "mouse_click"
	ActionExecCommand ActionType = "exec_command"
	ActionWait        ActionType = "wait"
	ActionCustom      ActionType = "custom"

	ActionVdiCreateDeskPool      ActionType = "vdi_create_desk_pool"
	ActionVdiEnableDeskPool      ActionType = "vdi_enable_desk_pool"
	ActionVdiDisableDeskPool     ActionType = "vdi_disable_desk_pool"
	ActionVdiDeleteDeskPool      ActionType = "vdi_delete_desk_pool"
	ActionVdiStartDomain         ActionType = "vdi_start_domain"
	ActionVdiShutdownDomain      ActionType = "vdi_shutdown_domain"
	ActionVdiRebootDomain        ActionType = "vdi_reboot_domain"
	ActionVdiDeleteDomain        ActionType = "vdi_delete_domain"
	ActionVdiBindUser            ActionType = "vdi_bind_user"
	ActionVdiGetDeskPoolDomains  ActionType = "vdi_get_desk_pool_domains"

	ActionVerifyDomainStatus     ActionType = "verify_domain_status"
	ActionVerifyAllDomainsRunning ActionType = "verify_all_domains_running"
	ActionVerifyCommandSuccess   ActionType = "verify_command_success"
)

// Action is one scenario-step action. Only the fields relevant to Type
// are populated; it is a flat struct decoded by the default YAML/JSON
// struct-tag decoding, with no custom unmarshaler.
type Action struct {
	Type ActionType `yaml:"type" json:"type"`

	// send_key / send_text
	Key  string `yaml:"key,omitempty" json:"key,omitempty"`
	Text string `yaml:"text,omitempty" json:"text,omitempty"`

	// mouse_click
	X      int    `yaml:"x,omitempty" json:"x,omitempty"`
	Y      int    `yaml:"y,omitempty" json:"y,omitempty"`
	Button string `yaml:"button,omitempty" json:"button,omitempty"`

	// exec_command
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// wait
	DurationMs int `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`

	// custom
	Name   string            `yaml:"name,omitempty" json:"name,omitempty"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`

	// vdi_* actions share these fields loosely, only the ones relevant to
	// Type are meaningful for a given action.
	DeskPoolID string `yaml:"desk_pool_id,omitempty" json:"desk_pool_id,omitempty"`
	DomainID   string `yaml:"domain_id,omitempty" json:"domain_id,omitempty"`
	UserID     string `yaml:"user_id,omitempty" json:"user_id,omitempty"`

	// verify_* actions
	ExpectedStatus string `yaml:"expected_status,omitempty" json:"expected_status,omitempty"`
}

// ScenarioStep is one step of a Scenario, executed in order.
type ScenarioStep struct {
	Name   string        `yaml:"name" json:"name"`
	Action Action        `yaml:"action" json:"action"`
	Verify bool          `yaml:"verify,omitempty" json:"verify,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Scenario is one scenario file's fully parsed contents, grounded on the
// original's Scenario struct.
type Scenario struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	TargetHost  string   `yaml:"target_host,omitempty" json:"target_host,omitempty"`
	TargetHosts *TargetSelector `yaml:"target_hosts,omitempty" json:"target_hosts,omitempty"`

	TargetDomain  string          `yaml:"target_domain,omitempty" json:"target_domain,omitempty"`
	TargetDomains *TargetSelector `yaml:"target_domains,omitempty" json:"target_domains,omitempty"`

	Verification VerificationConfig `yaml:"verification,omitempty" json:"verification,omitempty"`
	InputChannel InputChannelConfig `yaml:"input_channel,omitempty" json:"input_channel,omitempty"`

	Steps []ScenarioStep `yaml:"steps" json:"steps"`
	Tags  []string       `yaml:"tags,omitempty" json:"tags,omitempty"`

	Parallel ParallelConfig `yaml:"parallel,omitempty" json:"parallel,omitempty"`
}
