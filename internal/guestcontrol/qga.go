// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package guestcontrol speaks the two guest-facing protocols a step can
// use to run commands and manage the SPICE password: QGA (a JSON-RPC
// service reached over a virtio-serial channel) and QMP (libvirt's
// monitor passthrough to the hypervisor, used here only for
// set_password/expire_password).
package guestcontrol

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"
	"unicode/utf16"

	"github.com/blang/semver/v4"

	"github.com/wooveep/atp-runner/internal/virtioserial"
	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// minGuestExecVersion is the lowest QEMU Guest Agent version known to
// implement guest-exec/guest-exec-status.
var minGuestExecVersion = semver.MustParse("2.5.0")

// windowsPowerShellPath is the fixed location of PowerShell on a stock
// Windows guest, per spec.md §4.9's ExecCommand description.
const windowsPowerShellPath = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`

// unixShellPath runs a command through a POSIX shell on non-Windows
// guests, the supplemented (non-spec, see SPEC_FULL §3) exec path.
const unixShellPath = "/bin/sh"

// BuildPowerShellExec returns the guest-exec path/args pair that runs
// command under PowerShell with -EncodedCommand, so the caller never has
// to worry about guest-side shell quoting.
func BuildPowerShellExec(command string) (path string, args []string) {
	return windowsPowerShellPath, []string{
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-EncodedCommand", encodeUTF16LEBase64(command),
	}
}

// BuildExecPayload picks the guest-exec path/args for command/args based
// on the guest OS: PowerShell's -EncodedCommand transform for Windows
// (spec.md §4.9, the only ExecCommand semantics spec.md defines), a
// plain shell invocation otherwise (SPEC_FULL §3's supplemented guest-OS
// detection). args is only meaningful on the non-Windows path: a
// PowerShell -EncodedCommand payload already carries the whole script,
// so extra argv entries have nowhere to go.
func BuildExecPayload(command string, args []string, windows bool) (path string, execArgs []string) {
	if windows {
		return BuildPowerShellExec(command)
	}
	return unixShellPath, append([]string{"-c", command}, args...)
}

// encodeUTF16LEBase64 matches PowerShell's -EncodedCommand contract: the
// script is UTF-16LE encoded, then base64'd.
func encodeUTF16LEBase64(s string) string {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// ExecStatus is the decoded result of guest-exec-status.
type ExecStatus struct {
	Exited   bool
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
}

type qgaRequest struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type qgaError struct {
	Desc string `json:"desc"`
}

type qgaEnvelope struct {
	Return json.RawMessage `json:"return"`
	Error  *qgaError       `json:"error"`
}

// QGAClient issues guest-exec/guest-exec-status JSON-RPC calls over a
// virtio-serial channel to org.qemu.guest_agent.0. Requests/responses are
// raw JSON frames, not wrapped by virtioserial.JSONHandler's generic
// {data:...}/{result:...} envelope.
type QGAClient struct {
	proto *virtioserial.Protocol
}

// NewQGAClient wraps an already-dialed virtio-serial channel.
func NewQGAClient(ch *virtioserial.Channel) *QGAClient {
	return &QGAClient{proto: virtioserial.NewProtocol(ch, virtioserial.RawHandler{})}
}

func (c *QGAClient) call(execute string, arguments any) (json.RawMessage, error) {
	req := qgaRequest{Execute: execute, Arguments: arguments}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, atperrors.Wrap(atperrors.KindParseError, "encode qga request", err)
	}
	if err := c.proto.SendData(payload); err != nil {
		return nil, err
	}
	resp, err := c.proto.ReceiveData()
	if err != nil {
		return nil, err
	}
	var envelope qgaEnvelope
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil, atperrors.Wrap(atperrors.KindParseError, "decode qga response", err)
	}
	if envelope.Error != nil {
		return nil, atperrors.New(atperrors.KindCommandFailed, "qga: "+envelope.Error.Desc)
	}
	return envelope.Return, nil
}

// GuestVersion issues guest-info and parses the reported QGA version.
func (c *QGAClient) GuestVersion() (semver.Version, error) {
	ret, err := c.call("guest-info", nil)
	if err != nil {
		return semver.Version{}, err
	}
	var out struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(ret, &out); err != nil {
		return semver.Version{}, atperrors.Wrap(atperrors.KindParseError, "decode guest-info return", err)
	}
	v, err := semver.ParseTolerant(out.Version)
	if err != nil {
		return semver.Version{}, atperrors.Wrap(atperrors.KindParseError, "parse guest agent version "+out.Version, err)
	}
	return v, nil
}

// RequireExecSupport returns an error if version predates the first QGA
// release known to implement guest-exec/guest-exec-status, so a caller
// can fail fast instead of blocking on a command the guest can't run.
func RequireExecSupport(version semver.Version) error {
	if version.LT(minGuestExecVersion) {
		return atperrors.New(atperrors.KindUnsupported, "guest agent version "+version.String()+" predates guest-exec support (requires >= "+minGuestExecVersion.String()+")")
	}
	return nil
}

// GuestOSInfo is the subset of guest-get-osinfo's reply needed to pick
// an exec strategy.
type GuestOSInfo struct {
	ID string `json:"id"`
}

// IsWindows reports whether id matches the libosinfo identifier QEMU
// guest agent reports for Windows guests.
func (info GuestOSInfo) IsWindows() bool {
	return info.ID == "mswindows"
}

// GuestOSInfo issues guest-get-osinfo, the guest-OS detection step
// SPEC_FULL §3 calls for ahead of building a guest-exec payload.
func (c *QGAClient) GuestOSInfo() (GuestOSInfo, error) {
	ret, err := c.call("guest-get-osinfo", nil)
	if err != nil {
		return GuestOSInfo{}, err
	}
	var out GuestOSInfo
	if err := json.Unmarshal(ret, &out); err != nil {
		return GuestOSInfo{}, atperrors.Wrap(atperrors.KindParseError, "decode guest-get-osinfo return", err)
	}
	return out, nil
}

// GuestExec issues guest-exec and returns the spawned PID.
func (c *QGAClient) GuestExec(path string, args []string) (int64, error) {
	ret, err := c.call("guest-exec", map[string]any{
		"path":            path,
		"arg":             args,
		"capture-output":  true,
	})
	if err != nil {
		return 0, err
	}
	var out struct {
		PID int64 `json:"pid"`
	}
	if err := json.Unmarshal(ret, &out); err != nil {
		return 0, atperrors.Wrap(atperrors.KindParseError, "decode guest-exec return", err)
	}
	return out.PID, nil
}

// GuestExecStatus issues one guest-exec-status poll.
func (c *QGAClient) GuestExecStatus(pid int64) (ExecStatus, error) {
	ret, err := c.call("guest-exec-status", map[string]any{"pid": pid})
	if err != nil {
		return ExecStatus{}, err
	}
	var out struct {
		Exited   bool   `json:"exited"`
		ExitCode int32  `json:"exitcode"`
		OutData  string `json:"out-data"`
		ErrData  string `json:"err-data"`
	}
	if err := json.Unmarshal(ret, &out); err != nil {
		return ExecStatus{}, atperrors.Wrap(atperrors.KindParseError, "decode guest-exec-status return", err)
	}
	stdout, err := base64.StdEncoding.DecodeString(out.OutData)
	if err != nil {
		return ExecStatus{}, atperrors.Wrap(atperrors.KindParseError, "decode guest-exec-status stdout", err)
	}
	stderr, err := base64.StdEncoding.DecodeString(out.ErrData)
	if err != nil {
		return ExecStatus{}, atperrors.Wrap(atperrors.KindParseError, "decode guest-exec-status stderr", err)
	}
	return ExecStatus{Exited: out.Exited, ExitCode: out.ExitCode, Stdout: stdout, Stderr: stderr}, nil
}

// WaitExec polls GuestExecStatus every pollInterval until it reports
// exited, ctx is done, or an error occurs.
func (c *QGAClient) WaitExec(ctx context.Context, pid int64, pollInterval time.Duration) (ExecStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.GuestExecStatus(pid)
		if err != nil {
			return ExecStatus{}, err
		}
		if status.Exited {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return ExecStatus{}, atperrors.Wrap(atperrors.KindTimeout, "guest-exec-status poll", ctx.Err())
		case <-ticker.C:
		}
	}
}
