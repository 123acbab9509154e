package mq

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

func NewMQTTPublisher(broker, topicPrefix string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	logger.Log.Infow("connected to MQTT broker", "broker", broker)
	return &MQTTPublisher{client: client, topicPrefix: topicPrefix}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	topic := p.topicPrefix + key
	token := p.client.Publish(topic, 1, false, payload)
	if !token.Wait() {
		return fmt.Errorf("mqtt publish to %s did not complete", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
