package mq

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

// ActivityReport is the JSON the event-detection collaborator publishes per
// camera analysis result.
type ActivityReport struct {
	CameraID    string   `json:"camera_id"`
	HasActivity bool     `json:"has_activity"`
	SignalTypes []string `json:"signal_types"`
}

// ActivityConsumer subscribes to the detection topic and feeds reports into
// the throttle controller (or any other sink).
type ActivityConsumer struct {
	client mqtt.Client
	topic  string
}

// NewActivityConsumer connects and subscribes. sink is invoked on the MQTT
// client's delivery goroutine; it must be fast.
func NewActivityConsumer(broker, topic string, sink func(ActivityReport)) (*ActivityConsumer, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var report ActivityReport
		if err := json.Unmarshal(msg.Payload(), &report); err != nil {
			logger.Log.Warnw("malformed activity report",
				"topic", msg.Topic(),
				"error", err)
			return
		}
		sink(report)
	}

	if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}

	logger.Log.Infow("subscribed to activity reports", "topic", topic)
	return &ActivityConsumer{client: client, topic: topic}, nil
}

func (c *ActivityConsumer) Close() error {
	c.client.Unsubscribe(c.topic)
	c.client.Disconnect(250)
	return nil
}
