package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// EventType 变更类型
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// 变更事件涉及的表
const (
	TableDespachos       = "despachos"
	TableNotifications   = "notifications"
	TableDeviceLocations = "device_locations"
)

// Event 一条变更事件，Record 为变更后的完整记录
type Event struct {
	Table  string          `json:"table"`
	Type   EventType       `json:"type"`
	Record json.RawMessage `json:"record"`
	At     time.Time       `json:"at"`
}

// NewEvent 序列化记录并构造事件
func NewEvent(table string, typ EventType, record interface{}) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, err
	}
	return Event{Table: table, Type: typ, Record: raw, At: time.Now().UTC()}, nil
}

// Publisher 变更事件发布能力
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 实现 Publisher
func (Nop) Publish(context.Context, Event) error { return nil }
