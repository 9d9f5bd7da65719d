// Package ingest 接入设备侧上报的数据。
//
// 车载/手持设备通过 MQTT 发布定位到 despacho/ubicacion/<userID>，
// 负载为 {"latitude": .., "longitude": ..}，与 POST /api/location 走同一套校验与保存逻辑。
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"control-despacho/backend/config"
)

// LocationRecorder 设备定位保存能力
type LocationRecorder interface {
	RecordForDevice(ctx context.Context, userID uint, lat, lng float64) error
}

// ErrBadTopic 主题末段不是用户 ID
var ErrBadTopic = errors.New("ingest: 主题缺少有效的用户 ID")

// ErrBadPayload 负载不是合法的定位 JSON
var ErrBadPayload = errors.New("ingest: 定位负载无效")

type locationPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// ParseLocation 从主题与负载解析出用户 ID 和坐标
func ParseLocation(topic string, payload []byte) (uint, float64, float64, error) {
	idx := strings.LastIndex(topic, "/")
	id, err := strconv.ParseUint(topic[idx+1:], 10, 64)
	if err != nil || id == 0 {
		return 0, 0, 0, ErrBadTopic
	}

	var p locationPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Latitude == nil || p.Longitude == nil {
		return 0, 0, 0, ErrBadPayload
	}
	return uint(id), *p.Latitude, *p.Longitude, nil
}

// Subscriber MQTT 定位订阅者
type Subscriber struct {
	cfg      config.MQTTConfig
	recorder LocationRecorder
	logger   *zap.Logger
	client   paho.Client
	timeout  time.Duration
}

// NewSubscriber 创建订阅者
func NewSubscriber(cfg config.MQTTConfig, recorder LocationRecorder, logger *zap.Logger) *Subscriber {
	return &Subscriber{cfg: cfg, recorder: recorder, logger: logger, timeout: 5 * time.Second}
}

// Start 连接 broker 并订阅定位主题；断线后自动重连并重新订阅
func (s *Subscriber) Start() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, 1, s.handle)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("订阅 MQTT 主题失败", zap.String("topic", s.cfg.Topic), zap.Error(err))
			return
		}
		s.logger.Info("MQTT 已连接并订阅", zap.String("broker", s.cfg.Broker), zap.String("topic", s.cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("MQTT 连接断开", zap.Error(err))
	})

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("连接 MQTT broker 失败: %w", token.Error())
	}
	return nil
}

// Stop 断开连接
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	userID, lat, lng, err := ParseLocation(msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warn("丢弃无效的定位消息", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.recorder.RecordForDevice(ctx, userID, lat, lng); err != nil {
		s.logger.Warn("保存设备定位失败",
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
	}
}
