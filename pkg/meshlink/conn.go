package meshlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrTransportInit means the link could not be brought up; the node then runs without peers.
var ErrTransportInit = errors.New("transport init failed")

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	// Prefix is the first topic level shared by every node of a mesh.
	Prefix         string
	QoS            byte
	AckTimeout     time.Duration
	ConnectRetries int
	MaxElapsed     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "espmesh"
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 300 * time.Millisecond
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 5
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 10 * time.Second
	}
}

// Connect dials the broker with exponential backoff.
func Connect(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (mqtt.Client, error) {
	if logger == nil {
		logger = zap.S()
	}
	cfg.applyDefaults()
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetConnectTimeout(cfg.MaxElapsed)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warnf("Failed to connect to MQTT broker %s: %v", connAddr, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.ConnectRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransportInit, connAddr, err)
	}

	logger.Infof("Connected to MQTT broker at %s as %s", connAddr, cfg.ClientID)
	return client, nil
}
