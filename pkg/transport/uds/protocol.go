package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/droidwatch/pkg/adb"
	"github.com/modoterra/droidwatch/pkg/logcat"
)

var msgCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the payload into v. An empty payload leaves v alone.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Method, err)
	}
	return nil
}

func newMessage(typ MsgType, id, method string, data any) (Message, error) {
	msg := Message{Type: typ, ID: id, Method: method}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", method, err)
		}
		msg.Data = b
	}
	return msg, nil
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	return newMessage(MsgTypeReq, fmt.Sprintf("req-%d", msgCounter.Add(1)), method, data)
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	return newMessage(MsgTypeRes, reqID, method, data)
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Error: errMsg}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	return newMessage(MsgTypeEvt, fmt.Sprintf("evt-%d", msgCounter.Add(1)), method, data)
}

// RemoteError is an error reported by the daemon in a response.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Methods
const (
	MethodPing            = "Ping"
	MethodListDevices     = "ListDevices"
	MethodListApps        = "ListApps"
	MethodLogsSubscribe   = "LogsSubscribe"
	MethodLogsSetTarget   = "LogsSetTarget"
	MethodLogsClear       = "LogsClear"
	MethodLogsSnapshot    = "LogsSnapshot"
	MethodLogsUnsubscribe = "LogsUnsubscribe"

	EventLogsSnapshot = "logs.snapshot"
	EventDevicesDelta = "devices.delta"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// ListDevicesResponse carries the current device list.
type ListDevicesResponse struct {
	Devices []adb.Device `json:"devices"`
}

// ListAppsRequest asks for the user packages on a device.
type ListAppsRequest struct {
	Device string `json:"device"`
}

// ListAppsResponse lists package names, sorted.
type ListAppsResponse struct {
	Packages []string `json:"packages"`
}

// LogsSubscribeRequest starts a live log session for a device, optionally
// targeted at a package.
type LogsSubscribeRequest struct {
	Device  string `json:"device"`
	Package string `json:"package,omitempty"`
}

// LogsSubscribeResponse identifies the new session. Snapshots for it arrive
// as logs.snapshot events.
type LogsSubscribeResponse struct {
	Session  string          `json:"session"`
	Snapshot logcat.Snapshot `json:"snapshot"`
}

// SessionRequest addresses an existing session.
type SessionRequest struct {
	Session string `json:"session"`
}

// LogsSetTargetRequest changes the target package; empty means all records.
type LogsSetTargetRequest struct {
	Session string `json:"session"`
	Package string `json:"package"`
}

// LogsSnapshotEvent is pushed whenever a session's snapshot changes.
type LogsSnapshotEvent struct {
	Session  string          `json:"session"`
	Snapshot logcat.Snapshot `json:"snapshot"`
}

// DevicesDeltaEvent reports devices that appeared, changed state, or left.
type DevicesDeltaEvent struct {
	Upserted []adb.Device `json:"upserted,omitempty"`
	Removed  []string     `json:"removed,omitempty"`
}
