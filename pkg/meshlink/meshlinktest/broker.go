// Package meshlinktest provides an in-process stand-in for the MQTT broker so
// links can be exercised without a network.
package meshlinktest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker routes publishes between the clients it hands out.
type Broker struct {
	mu   sync.Mutex
	subs map[*Client]map[string]mqtt.MessageHandler
	// Drop, when set, swallows matching publishes (a sleeping or absent board).
	Drop func(topic string) bool
	// Redeliver hands every publish over a second time with the DUP flag set, as after a lost PUBACK.
	Redeliver bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Client]map[string]mqtt.MessageHandler)}
}

func (b *Broker) Client() *Client {
	c := &Client{broker: b, connected: true}
	b.mu.Lock()
	b.subs[c] = make(map[string]mqtt.MessageHandler)
	b.mu.Unlock()
	return c
}

func (b *Broker) publish(topic string, payload []byte) {
	b.mu.Lock()
	if b.Drop != nil && b.Drop(topic) {
		b.mu.Unlock()
		return
	}
	type target struct {
		c *Client
		h mqtt.MessageHandler
	}
	var targets []target
	redeliver := b.Redeliver
	for c, filters := range b.subs {
		for f, h := range filters {
			if Match(f, topic) {
				targets = append(targets, target{c, h})
			}
		}
	}
	b.mu.Unlock()

	for _, t := range targets {
		body := append([]byte(nil), payload...)
		go func(t target) {
			t.h(t.c, &message{topic: topic, payload: body})
			if redeliver {
				t.h(t.c, &message{topic: topic, payload: body, dup: true})
			}
		}(t)
	}
}

// Match implements MQTT filter matching for '+' and trailing '#'.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// Client implements the subset of mqtt.Client the link uses.
type Client struct {
	mqtt.Client
	broker    *Broker
	mu        sync.Mutex
	connected bool
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.broker.mu.Lock()
	delete(c.broker.subs, c)
	c.broker.mu.Unlock()
}

func (c *Client) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	c.broker.publish(topic, body)
	return doneToken{}
}

func (c *Client) Subscribe(filter string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.broker.mu.Lock()
	if subs, ok := c.broker.subs[c]; ok {
		subs[filter] = h
	}
	c.broker.mu.Unlock()
	return doneToken{}
}

func (c *Client) Unsubscribe(filters ...string) mqtt.Token {
	c.broker.mu.Lock()
	for _, f := range filters {
		delete(c.broker.subs[c], f)
	}
	c.broker.mu.Unlock()
	return doneToken{}
}

type doneToken struct{}

var closed = func() chan struct{} { c := make(chan struct{}); close(c); return c }()

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{}          { return closed }
func (doneToken) Error() error                   { return nil }

type message struct {
	topic   string
	payload []byte
	dup     bool
}

func (m *message) Duplicate() bool   { return m.dup }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
