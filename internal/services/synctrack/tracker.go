package synctrack

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

// Tracker records whether the last link event proved the neighbour reachable.
// It is written from transport callbacks and read by the cycle loop.
type Tracker struct {
	flag   atomic.Uint32
	gauge  prometheus.Gauge
	logger *zap.SugaredLogger
}

// New seeds the tracker from the retained flag. reg may be nil.
func New(seed entities.SyncFlag, reg prometheus.Registerer, logger *zap.SugaredLogger) *Tracker {
	if logger == nil {
		logger = zap.S()
	}
	t := &Tracker{logger: logger}
	if reg != nil {
		t.gauge = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "espnode_synchronized",
			Help: "1 when the last exchange with the neighbour succeeded",
		})
	}
	if seed != entities.Synchronized {
		seed = entities.Desynchronized
	}
	t.set(seed)
	return t
}

// OnSendResult follows the outcome of a transmission to the neighbour.
func (t *Tracker) OnSendResult(err error) {
	if err != nil {
		t.logger.Debugf("Send failed, desynchronized: %v", err)
		t.set(entities.Desynchronized)
		return
	}
	t.set(entities.Synchronized)
}

// OnReceive marks the link alive: any inbound datagram means the peer is awake.
func (t *Tracker) OnReceive() { t.set(entities.Synchronized) }

func (t *Tracker) Flag() entities.SyncFlag { return entities.SyncFlag(t.flag.Load()) }

func (t *Tracker) Synchronized() bool { return t.Flag() == entities.Synchronized }

func (t *Tracker) set(f entities.SyncFlag) {
	t.flag.Store(uint32(f))
	if t.gauge != nil {
		if f == entities.Synchronized {
			t.gauge.Set(1)
		} else {
			t.gauge.Set(0)
		}
	}
}
