package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Frame is one line of the multiplexed wire protocol: either the global
// heartbeat ("h:") or a channel-addressed sub-command ("<index>:<cmd>:<body>").
type Frame struct {
	Heartbeat bool
	Channel   int
	Cmd       string
	Body      string
}

// EncodeHeartbeat returns the wire line for a heartbeat frame.
func EncodeHeartbeat() string { return "h:" }

// EncodeChannelFrame returns the wire line addressing channel index with a
// sub-command and its body.
func EncodeChannelFrame(index int, cmd, body string) string {
	if body == "" {
		return strconv.Itoa(index) + ":" + cmd
	}
	return strconv.Itoa(index) + ":" + cmd + ":" + body
}

// DecodeFrame parses one received wire line.
func DecodeFrame(line string) (Frame, error) {
	if line == "h:" || line == "h" {
		return Frame{Heartbeat: true}, nil
	}

	idxStr, rest, ok := strings.Cut(line, ":")
	if !ok {
		return Frame{}, errors.Errorf("protocol: malformed frame %q", line)
	}
	index, err := strconv.Atoi(idxStr)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "protocol: malformed channel index in %q", line)
	}

	cmd, body, _ := strings.Cut(rest, ":")
	return Frame{Channel: index, Cmd: cmd, Body: body}, nil
}

// EncodeInit marshals an InitFrame to JSON for an "init" sub-command body.
func EncodeInit(f InitFrame) (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", errors.Wrap(err, "protocol: encode init")
	}
	return string(raw), nil
}

// EncodeIndexRequest builds an "i" request body: "<offset>:<mark>:<limit>:<since>".
func EncodeIndexRequest(offset int, mark string, limit int, since string) string {
	return strconv.Itoa(offset) + ":" + mark + ":" + strconv.Itoa(limit) + ":" + since
}

// DecodeIndex unmarshals an "i" response body into an IndexFrame.
func DecodeIndex(body string) (IndexFrame, error) {
	var f IndexFrame
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return IndexFrame{}, errors.Wrap(err, "protocol: decode index")
	}
	return f, nil
}

// EncodeChange marshals a ChangeFrame to JSON for a "c" sub-command body.
func EncodeChange(f ChangeFrame) (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", errors.Wrap(err, "protocol: encode change")
	}
	return string(raw), nil
}

// DecodeChanges unmarshals a "c" inbound body, which may be a single change
// object or a JSON array of them (spec.md §6).
func DecodeChanges(body string) ([]ChangeFrame, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var frames []ChangeFrame
		if err := json.Unmarshal([]byte(trimmed), &frames); err != nil {
			return nil, errors.Wrap(err, "protocol: decode change array")
		}
		return frames, nil
	}
	var f ChangeFrame
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
		return nil, errors.Wrap(err, "protocol: decode change")
	}
	return []ChangeFrame{f}, nil
}

// EncodeEntityRequest builds an "e" request body: "<id>.<version>".
func EncodeEntityRequest(id string, version int64) string {
	return id + "." + strconv.FormatInt(version, 10)
}

// DecodeEntityResponse splits an "e" response body into its "<id>.<version>"
// header line and trailing JSON document.
func DecodeEntityResponse(body string) (EntityFrame, error) {
	header, jsonPart, ok := strings.Cut(body, "\n")
	if !ok {
		return EntityFrame{}, errors.Errorf("protocol: malformed entity response %q", body)
	}
	id, versionStr, ok := strings.Cut(header, ".")
	if !ok {
		return EntityFrame{}, errors.Errorf("protocol: malformed entity header %q", header)
	}
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return EntityFrame{}, errors.Wrapf(err, "protocol: malformed entity version in %q", header)
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(jsonPart), &data); err != nil {
		return EntityFrame{}, errors.Wrap(err, "protocol: decode entity body")
	}
	return EntityFrame{ID: id, Version: version, Data: data}, nil
}
