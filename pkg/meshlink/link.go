package meshlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
	"github.com/LeonardoBeccarini/espcluster/pkg/dedup"
)

var ErrNoAck = errors.New("no acknowledgement from peer")

// Link is a connectionless, best-effort datagram channel between boards.
// Every data or command datagram is acknowledged by the receiving link, which
// is what the send-completion callback reports.
type Link struct {
	client     mqtt.Client
	prefix     string
	self       entities.Addr
	qos        byte
	ackTimeout time.Duration
	dedup      *dedup.Deduper
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	pending map[uint64]chan struct{}
	handler func(messages.Datagram)
}

func New(client mqtt.Client, cfg Config, self entities.Addr, dd *dedup.Deduper, logger *zap.SugaredLogger) *Link {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.S()
	}
	if dd == nil {
		dd = dedup.New(0)
	}
	return &Link{
		client:     client,
		prefix:     cfg.Prefix,
		self:       self,
		qos:        cfg.QoS,
		ackTimeout: cfg.AckTimeout,
		dedup:      dd,
		logger:     logger,
		pending:    make(map[uint64]chan struct{}),
	}
}

func (l *Link) Self() entities.Addr { return l.self }

// Send publishes payload to dst and reports the outcome to done from another goroutine.
func (l *Link) Send(dst entities.Addr, kind messages.DatagramKind, payload []byte, done func(error)) {
	key := dedup.Key(dst[:], payload)
	acked := make(chan struct{}, 1)
	l.mu.Lock()
	l.pending[key] = acked
	l.mu.Unlock()

	topic := Topic(l.prefix, dst, kind, l.self)
	token := l.client.Publish(topic, l.qos, false, payload)

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.pending, key)
			l.mu.Unlock()
		}()
		err := l.awaitAck(token, acked)
		if err != nil {
			l.logger.Debugf("Send %s to %s failed: %v", kind, dst, err)
		}
		if done != nil {
			done(err)
		}
	}()
}

func (l *Link) awaitAck(token mqtt.Token, acked <-chan struct{}) error {
	timer := time.NewTimer(l.ackTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	case <-timer.C:
		return fmt.Errorf("publish: %w", ErrNoAck)
	}

	select {
	case <-acked:
		return nil
	case <-timer.C:
		return ErrNoAck
	}
}

// Listen subscribes to the inbox of this board. handler runs on the MQTT client goroutine.
func (l *Link) Listen(handler func(messages.Datagram)) error {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()

	filter := InboxFilter(l.prefix, l.self)
	token := l.client.Subscribe(filter, l.qos, l.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}
	l.logger.Infof("Listening on %s", filter)
	return nil
}

func (l *Link) onMessage(_ mqtt.Client, msg mqtt.Message) {
	dst, kind, src, err := ParseTopic(l.prefix, msg.Topic())
	if err != nil || dst != l.self {
		l.logger.Debugf("Ignoring message on %s: %v", msg.Topic(), err)
		return
	}
	payload := msg.Payload()

	if kind == messages.KindAck {
		if len(payload) != 8 {
			return
		}
		key := binary.LittleEndian.Uint64(payload)
		l.mu.Lock()
		ch, ok := l.pending[key]
		l.mu.Unlock()
		if ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		return
	}

	// ack before dedup so a retransmission after a lost ack still completes
	ack := make([]byte, 8)
	binary.LittleEndian.PutUint64(ack, dedup.Key(l.self[:], payload))
	l.client.Publish(Topic(l.prefix, src, messages.KindAck, l.self), l.qos, false, ack)

	// a fresh publish of the same bytes is a new datagram; only a flagged redelivery of one already seen is dropped
	if seen := !l.dedup.ShouldProcess(dedup.Key(src[:], []byte(kind), payload)); seen && msg.Duplicate() {
		l.logger.Debugf("Duplicate %s from %s dropped", kind, src)
		return
	}

	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	h(messages.Datagram{Sender: src, Kind: kind, Payload: body})
}

// Close unsubscribes and disconnects.
func (l *Link) Close() {
	if l.client.IsConnected() {
		l.client.Unsubscribe(InboxFilter(l.prefix, l.self)).WaitTimeout(time.Second)
		l.client.Disconnect(250)
		l.logger.Info("MQTT link closed")
	}
}
