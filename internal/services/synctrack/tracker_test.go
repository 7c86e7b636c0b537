package synctrack

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

func TestTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := New(entities.Desynchronized, reg, zap.NewNop().Sugar())
	assert.Equal(t, entities.Desynchronized, tr.Flag())
	assert.Equal(t, float64(0), testutil.ToFloat64(tr.gauge))

	tr.OnSendResult(nil)
	assert.Equal(t, entities.Synchronized, tr.Flag())
	assert.Equal(t, float64(1), testutil.ToFloat64(tr.gauge))

	tr.OnSendResult(errors.New("no ack"))
	assert.False(t, tr.Synchronized())

	tr.OnReceive()
	assert.True(t, tr.Synchronized())
}

func TestSeed(t *testing.T) {
	assert.True(t, New(entities.Synchronized, nil, nil).Synchronized())
	// anything that is not the synchronized marker reads as desynchronized
	assert.Equal(t, entities.Desynchronized, New(entities.SyncFlag(0x00), nil, nil).Flag())
}

func TestConcurrentWriters(t *testing.T) {
	tr := New(entities.Desynchronized, nil, zap.NewNop().Sugar())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.OnReceive()
			} else {
				tr.OnSendResult(errors.New("x"))
			}
		}(i)
	}
	wg.Wait()
	f := tr.Flag()
	assert.True(t, f == entities.Synchronized || f == entities.Desynchronized)
}
