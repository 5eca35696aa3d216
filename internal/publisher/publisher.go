package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"alarm-broker/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options MQTT 发布器连接参数
type Options struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher 状态变更事件发布器
// 发布是尽力而为：broker 不可达时只记日志，报警流程不受影响
type Publisher struct {
	client      mqtt.Client
	enabled     bool
	topicPrefix string
	logger      *zap.Logger
}

// stateChangedEvent 状态变更事件载荷
type stateChangedEvent struct {
	Event       string     `json:"event"`
	AlarmID     string     `json:"alarm_id"`
	OldState    string     `json:"old_state"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	AckedAt     *time.Time `json:"acked_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	PersonID    *string    `json:"person_id,omitempty"`
	RoomID      *string    `json:"room_id,omitempty"`
	SiteID      *string    `json:"site_id,omitempty"`
	DeviceID    *string    `json:"device_id,omitempty"`
}

// New 创建发布器并连接 broker
// Enabled 为 false 时返回空壳发布器，所有发布调用为 no-op
func New(opts Options, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		enabled:     opts.Enabled && opts.Broker != "",
		topicPrefix: opts.TopicPrefix,
		logger:      logger,
	}
	if !p.enabled {
		return p, nil
	}

	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(opts.Broker)
	mqttOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		mqttOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		mqttOpts.SetPassword(opts.Password)
	}

	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetCleanSession(true)

	client := mqtt.NewClient(mqttOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.client = client
	return p, nil
}

// PublishStateChanged 发布报警状态变更事件
// 失败重试 3 次，仍失败时记日志放弃
func (p *Publisher) PublishStateChanged(alarm *models.Alarm, oldState, newState string) {
	if !p.enabled {
		return
	}

	event := stateChangedEvent{
		Event:       models.EventAlarmStateChanged,
		AlarmID:     alarm.ID,
		OldState:    oldState,
		State:       newState,
		CreatedAt:   alarm.CreatedAt,
		AckedAt:     alarm.AckedAt,
		ResolvedAt:  alarm.ResolvedAt,
		CancelledAt: alarm.CancelledAt,
		PersonID:    alarm.PersonID,
		RoomID:      alarm.RoomID,
		SiteID:      alarm.SiteID,
		DeviceID:    alarm.DeviceID,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal state change event",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err),
		)
		return
	}

	topic := fmt.Sprintf("%s/alarm/%s/state", p.topicPrefix, alarm.ID)

	for attempt := 1; attempt <= 3; attempt++ {
		token := p.client.Publish(topic, 1, false, payload)
		token.Wait()
		if token.Error() == nil {
			return
		}
		if attempt == 3 {
			p.logger.Error("Failed to publish state change event",
				zap.String("alarm_id", alarm.ID),
				zap.String("topic", topic),
				zap.Int("attempts", attempt),
				zap.Error(token.Error()),
			)
			return
		}
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
}

// Close 断开 MQTT 连接
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
