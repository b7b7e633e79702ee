// Package event 定义实时通道上的 JSON 事件协议
// 线缆格式为 {"event": "...", "data": {...}}，双向共用同一信封
package event

import (
	"encoding/json"
	"fmt"
)

// 客户端到服务端的事件
const (
	TypeSendMessage  = "send_message"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
	TypeAddReaction  = "add_reaction"
	TypeJoinChannel  = "join_channel"
	TypeLeaveChannel = "leave_channel"
	TypeUpdateStatus = "update_status"
	TypeTaskAssigned = "task_assigned"
)

// 服务端到客户端的事件
const (
	TypeNewMessage        = "new_message"
	TypeUserTyping        = "user_typing"
	TypeUserStoppedTyping = "user_stopped_typing"
	TypeReactionAdded     = "reaction_added"
	TypeReactionRemoved   = "reaction_removed"
	TypeUserStatusChanged = "user_status_changed"
	TypeNotification      = "notification"
	TypeError             = "error"
)

var inboundTypes = map[string]bool{
	TypeSendMessage:  true,
	TypeTypingStart:  true,
	TypeTypingStop:   true,
	TypeAddReaction:  true,
	TypeJoinChannel:  true,
	TypeLeaveChannel: true,
	TypeUpdateStatus: true,
	TypeTaskAssigned: true,
}

// Envelope 事件信封
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessageData send_message 载荷
type SendMessageData struct {
	ThreadID  string         `json:"thread_id"`
	Content   string         `json:"content"`
	MsgType   string         `json:"type,omitempty"`
	ReplyToID *int64         `json:"reply_to_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TypingData typing_start / typing_stop 载荷
type TypingData struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

// AddReactionData add_reaction 载荷
type AddReactionData struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// ChannelData join_channel / leave_channel 载荷
type ChannelData struct {
	ChannelID string `json:"channel_id"`
}

// UpdateStatusData update_status 载荷
type UpdateStatusData struct {
	Status   string `json:"status"`
	Activity string `json:"activity,omitempty"`
}

// TaskAssignedData task_assigned 载荷
type TaskAssignedData struct {
	TargetUserID string         `json:"target_user_id"`
	Title        string         `json:"title"`
	Content      string         `json:"content,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// ReactionData reaction_added / reaction_removed 载荷
type ReactionData struct {
	MessageID int64  `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// StatusChangedData user_status_changed 载荷
type StatusChangedData struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	Activity string `json:"activity,omitempty"`
}

// ErrorData error 载荷
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode 解析入站事件，未知事件类型和畸形 JSON 都报错
func Decode(raw []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if envelope.Event == "" {
		return nil, fmt.Errorf("missing event field")
	}
	if !inboundTypes[envelope.Event] {
		return nil, fmt.Errorf("unknown event type %q", envelope.Event)
	}
	return &envelope, nil
}

// DecodeData 把信封载荷解析到具体类型
func DecodeData(envelope *Envelope, out any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("event %s has no data", envelope.Event)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("invalid %s data: %w", envelope.Event, err)
	}
	return nil
}

// Encode 编码出站事件
func Encode(eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", eventType, err)
	}
	return json.Marshal(&Envelope{Event: eventType, Data: payload})
}
