// Package protocol implements the line-delimited, channel-multiplexed wire
// frames spoken over the client's duplex socket (spec.md §6).
package protocol

import "github.com/wezm/bucketsync/jsondiff"

// InitFrame is the first per-channel frame sent after connecting.
type InitFrame struct {
	ClientID string `json:"clientid"`
	API      int    `json:"api"`
	AppID    string `json:"app_id"`
	Token    string `json:"token"`
	Name     string `json:"name"`
	Library  string `json:"library"`
	Version  string `json:"version"`
}

// IndexEntry is one object listed in an "i" index payload.
type IndexEntry struct {
	ID   string                     `json:"id"`
	V    int64                      `json:"v"`
	Data map[string]jsondiff.Value `json:"d"`
}

// IndexFrame is the server's reply to an index request.
type IndexFrame struct {
	Index   []IndexEntry `json:"index"`
	Mark    string       `json:"mark,omitempty"`
	Current int64        `json:"current"`
}

// ChangeOp distinguishes a modify from a remove on the wire.
type ChangeOp string

const (
	ChangeModify ChangeOp = "M"
	ChangeRemove ChangeOp = "-"
)

// ChangeFrame is a "c" frame, sent outbound to submit a local change and
// received inbound to apply a remote one.
type ChangeFrame struct {
	ClientID      string                      `json:"clientid"`
	ID            string                      `json:"id"`
	Op            ChangeOp                    `json:"o"`
	Value         jsondiff.ObjectOperationSet `json:"v,omitempty"`
	SourceVersion *int64                      `json:"sv,omitempty"`
	EndVersion    int64                       `json:"ev"`
	CCID          string                      `json:"ccid"`
	Data          map[string]jsondiff.Value  `json:"d,omitempty"`
}

// EntityFrame is an "e" full-object request/response.
type EntityFrame struct {
	ID      string                     `json:"id"`
	Version int64                      `json:"version"`
	Data    map[string]jsondiff.Value `json:"data"`
}
