package collector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
)

const DefaultMeasurement = "esp_data"

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Influx writes one point per board, tagged with the board id.
type Influx struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	now         func() time.Time
	logger      *zap.SugaredLogger
}

func NewInflux(cfg InfluxConfig, logger *zap.SugaredLogger) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	if logger == nil {
		logger = zap.S()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		now:         time.Now,
		logger:      logger,
	}, nil
}

// RecordToPoint maps a board record onto the measurement.
func RecordToPoint(measurement string, r messages.BoardRecord, ts time.Time) *write.Point {
	tags := map[string]string{
		"board_id": strconv.Itoa(int(r.BoardID)),
	}
	fields := map[string]interface{}{
		"battery":     int64(r.Battery),
		"temperature": int64(r.Temperature),
		"humidity":    int64(r.Humidity),
		"pressure":    int64(r.Pressure),
		"luminosity":  int64(r.Luminosity),
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}

func (i *Influx) Deliver(ctx context.Context, records []messages.BoardRecord) error {
	if len(records) == 0 {
		return nil
	}
	ts := i.now()
	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		points = append(points, RecordToPoint(i.measurement, r, ts))
	}
	if err := i.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: influx: %v", ErrDelivery, err)
	}
	i.logger.Debugf("Wrote %d points to %s", len(points), i.measurement)
	return nil
}

func (i *Influx) Close() error {
	i.client.Close()
	return nil
}
