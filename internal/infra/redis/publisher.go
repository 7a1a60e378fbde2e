package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// deliveryMessage is the wire form of a delivery published on the shared channel.
// An empty Username marks a broadcast.
type deliveryMessage struct {
	Username string          `json:"username,omitempty"`
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload"`
}

// Publisher is a DeliveryChannel that fans deliveries out to every instance through Redis pub/sub,
// so a participant connected to any instance receives them.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) SendToUser(ctx context.Context, username, topic string, payload any) error {
	if username == "" {
		return fmt.Errorf("send to user: empty username")
	}
	return p.publish(ctx, username, topic, payload)
}

func (p *Publisher) Broadcast(ctx context.Context, topic string, payload any) error {
	return p.publish(ctx, "", topic, payload)
}

func (p *Publisher) publish(ctx context.Context, username, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	msg, err := json.Marshal(deliveryMessage{Username: username, Topic: topic, Payload: body})
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// LocalDelivery receives relayed messages, typically the process's websocket hub.
type LocalDelivery interface {
	SendToUser(ctx context.Context, username, topic string, payload any) error
	Broadcast(ctx context.Context, topic string, payload any) error
}

// Relay subscribes to the shared channel and hands every message to the local hub.
type Relay struct {
	client  *redis.Client
	channel string
	local   LocalDelivery
	log     *zap.Logger
}

func NewRelay(client *redis.Client, channel string, local LocalDelivery, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{client: client, channel: channel, local: local, log: log}
}

// Run forwards messages until ctx is cancelled. It returns once the subscription fails to
// start or ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("delivery relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, raw string) {
	var msg deliveryMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.log.Error("decode relayed delivery", zap.Error(err))
		return
	}
	var err error
	if msg.Username == "" {
		err = r.local.Broadcast(ctx, msg.Topic, msg.Payload)
	} else {
		err = r.local.SendToUser(ctx, msg.Username, msg.Topic, msg.Payload)
	}
	if err != nil {
		r.log.Error("forward relayed delivery", zap.String("topic", msg.Topic), zap.Error(err))
	}
}
