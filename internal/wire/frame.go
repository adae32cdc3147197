// Package wire defines the router's wire protocol: a fixed set of typed
// frames serialized as newline-delimited JSON over a TCP connection
// (spec §6.1). Agents connect outbound to the router; there is no
// agent-to-agent direct connection.
package wire

import "encoding/json"

// MsgType enumerates the frame kinds exchanged between a router and an
// agent client.
type MsgType string

const (
	MsgRegister     MsgType = "register"
	MsgRegisterAck  MsgType = "register_ack"
	MsgGetState     MsgType = "get_state"
	MsgStateUpdate  MsgType = "state_update"
	MsgDumpState    MsgType = "dump_state"
	MsgAgentMessage MsgType = "agent_message"
	MsgRouterMessage MsgType = "router_message"
	MsgTeamInfo     MsgType = "team_info"
	MsgStatusUpdate MsgType = "status_update"
	MsgStop         MsgType = "stop"
	MsgStopAck      MsgType = "stop_ack"
	MsgHeartbeat    MsgType = "heartbeat"
	MsgHeartbeatAck MsgType = "heartbeat_ack"
)

// Frame is the single wire unit. Payload is left as raw JSON so that a
// receiver decodes it only once it knows MsgType (mirrors the teacher's
// ACP transport, which leaves Request.Params as json.RawMessage until a
// method dispatch decides the concrete type).
type Frame struct {
	MsgType MsgType         `json:"msg_type"`
	AgentID string          `json:"agent_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	MsgID   string          `json:"msg_id"`
}

// RegisterPayload is the payload of a MsgRegister frame.
type RegisterPayload struct {
	Endpoint string `json:"endpoint"`
	TeamID   string `json:"team_id,omitempty"`
}

// RegisterAckPayload is the payload of a MsgRegisterAck frame.
type RegisterAckPayload struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// TeamInfoPayload is the payload of a MsgTeamInfo frame, sent once after
// registration for team members.
type TeamInfoPayload struct {
	TeamID  string   `json:"team_id"`
	Members []string `json:"members"`
}

// StatusUpdatePayload is the payload of a MsgStatusUpdate frame.
type StatusUpdatePayload struct {
	Status string `json:"status"`
}

// DecodePayload unmarshals a frame's raw Payload into v.
func (f *Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// EncodePayload marshals v and attaches it as the frame's Payload.
func EncodePayload(msgType MsgType, agentID, msgID string, v any) (*Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Frame{MsgType: msgType, AgentID: agentID, MsgID: msgID, Payload: data}, nil
}
