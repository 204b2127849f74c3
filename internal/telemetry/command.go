package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

var ErrInvalidCommand = errors.New("invalid command")

type RequestKind string

const (
	KindRelay    RequestKind = "relay"
	KindReset    RequestKind = "reset"
	KindSync     RequestKind = "sync"
	KindSettings RequestKind = "updateSettings"
	KindPing     RequestKind = "ping"
)

// SettingsUpdate carries the poll delays in milliseconds. Absent fields
// keep their current value.
type SettingsUpdate struct {
	SensorPollDelayA *int64 `json:"sensorPollDelayA"`
	SensorPollDelayB *int64 `json:"sensorPollDelayB"`
}

// Request is a validated inbound message.
type Request struct {
	Kind     RequestKind
	ID       string
	Command  model.RemoteCommand
	Settings SettingsUpdate
}

type inbound struct {
	Type         string             `json:"type"`
	TargetRelay  *int               `json:"targetRelay"`
	DesiredState model.DesiredState `json:"desiredState"`
	RequestID    string             `json:"requestId"`
	MotorOn      *bool              `json:"motorOn"`
	Settings     *SettingsUpdate    `json:"settings"`
}

// ParseRequest decodes and validates one inbound frame against a unit with
// relayCount relays. The returned request always carries an ID so the
// reply can be correlated, even when validation fails.
func ParseRequest(data []byte, relayCount int) (Request, error) {
	if strings.TrimSpace(string(data)) == "ping" {
		return Request{Kind: KindPing}, nil
	}

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Request{ID: uuid.NewString()}, fmt.Errorf("%w: malformed message", ErrInvalidCommand)
	}

	req := Request{ID: in.RequestID}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	switch in.Type {
	case "relay":
		target, err := validTarget(in.TargetRelay, relayCount)
		if err != nil {
			return req, err
		}
		if !in.DesiredState.Valid() {
			return req, fmt.Errorf("%w: desiredState must be \"on\" or \"off\"", ErrInvalidCommand)
		}
		req.Kind = KindRelay
		req.Command = model.RemoteCommand{TargetRelay: target, DesiredState: in.DesiredState, RequestID: req.ID}

	case "motorControl":
		if in.MotorOn == nil {
			return req, fmt.Errorf("%w: motorOn is required", ErrInvalidCommand)
		}
		desired := model.DesiredOff
		if *in.MotorOn {
			desired = model.DesiredOn
		}
		req.Kind = KindRelay
		req.Command = model.RemoteCommand{TargetRelay: 1, DesiredState: desired, RequestID: req.ID}

	case "reset":
		target, err := validTarget(in.TargetRelay, relayCount)
		if err != nil {
			return req, err
		}
		req.Kind = KindReset
		req.Command = model.RemoteCommand{TargetRelay: target, RequestID: req.ID}

	case "getAllData", "sync":
		req.Kind = KindSync

	case "updateSettings":
		if in.Settings == nil || (in.Settings.SensorPollDelayA == nil && in.Settings.SensorPollDelayB == nil) {
			return req, fmt.Errorf("%w: settings must include a poll delay", ErrInvalidCommand)
		}
		req.Kind = KindSettings
		req.Settings = *in.Settings

	case "":
		return req, fmt.Errorf("%w: missing type", ErrInvalidCommand)
	default:
		return req, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, in.Type)
	}
	return req, nil
}

func validTarget(target *int, relayCount int) (int, error) {
	if target == nil {
		return 0, fmt.Errorf("%w: targetRelay is required", ErrInvalidCommand)
	}
	if *target < 1 || *target > relayCount {
		return 0, fmt.Errorf("%w: targetRelay %d is not a known relay", ErrInvalidCommand, *target)
	}
	return *target, nil
}

type Ack struct {
	Type      string            `json:"type"`
	RequestID string            `json:"requestId"`
	State     model.RelayState  `json:"state,omitempty"`
	Relay     *RelayRecord      `json:"relay,omitempty"`
	Settings  *SettingsResponse `json:"settings,omitempty"`
}

type SettingsResponse struct {
	SensorPollDelayA int64 `json:"sensorPollDelayA"`
	SensorPollDelayB int64 `json:"sensorPollDelayB"`
}

type ErrorReply struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      string `json:"data"`
}

func encodeError(requestID string, err error) []byte {
	b, _ := json.Marshal(ErrorReply{Type: "error", RequestID: requestID, Data: err.Error()})
	return b
}

func encodeAck(a Ack) []byte {
	a.Type = "ack"
	b, _ := json.Marshal(a)
	return b
}
