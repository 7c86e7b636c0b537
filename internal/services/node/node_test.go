package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model"
	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
	sim "github.com/LeonardoBeccarini/espcluster/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/espcluster/internal/services/aggregator"
	"github.com/LeonardoBeccarini/espcluster/internal/services/collector"
	"github.com/LeonardoBeccarini/espcluster/internal/services/dutycycle"
	"github.com/LeonardoBeccarini/espcluster/internal/services/retained"
)

// stepClock advances by step on every reading, so active windows elapse without real waiting.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type sent struct {
	dst     model.Addr
	kind    messages.DatagramKind
	payload []byte
}

type fakeLink struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (l *fakeLink) Send(dst model.Addr, kind messages.DatagramKind, payload []byte, done func(error)) {
	l.mu.Lock()
	l.sent = append(l.sent, sent{dst, kind, payload})
	err := l.err
	l.mu.Unlock()
	go done(err)
}

func (l *fakeLink) Sent() []sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sent(nil), l.sent...)
}

type fakeCollector struct {
	mu      sync.Mutex
	batches [][]messages.BoardRecord
	err     error
	// onDeliver runs before the batch is recorded.
	onDeliver func()
	// hang blocks Deliver until its context ends.
	hang bool
}

func (c *fakeCollector) Deliver(ctx context.Context, r []messages.BoardRecord) error {
	if c.onDeliver != nil {
		c.onDeliver()
	}
	if c.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, r)
	return c.err
}

func (c *fakeCollector) Close() error { return nil }

type harness struct {
	store *retained.MemStore
	link  *fakeLink
	coll  *fakeCollector
}

func newHarness() *harness {
	return &harness{store: retained.NewMemStore(4), link: &fakeLink{}, coll: &fakeCollector{}}
}

func (h *harness) node(t *testing.T, board model.BoardID) *Node {
	t.Helper()
	n, err := New(Config{
		Board:        board,
		Capacity:     4,
		Peer:         entities.DefaultAddresses[(int(board)+1)%4],
		PollInterval: time.Millisecond,
	}, Deps{
		Store:     h.store,
		Clock:     &stepClock{now: time.Unix(1_700_000_000, 0), step: 100 * time.Millisecond},
		Producer:  sim.NewDataGenerator(sim.FixedSupply(3.3), sim.ESP32Thresholds, 1),
		Link:      h.link,
		Collector: h.coll,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return n
}

func (h *harness) seed(t *testing.T, mutate func(r *retained.Retained)) {
	t.Helper()
	r, err := retained.Defaults(4)
	require.NoError(t, err)
	mutate(r)
	require.NoError(t, h.store.Save(r))
}

func peerSnapshot(t *testing.T, board model.BoardID) []byte {
	t.Helper()
	raw, err := entities.SensorSnapshot{BoardID: board, Battery: 40, Temperature: 25, Humidity: 50, Pressure: 1020, Luminosity: 777}.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func commandBytes(t *testing.T, c entities.TimingCommand) []byte {
	t.Helper()
	raw, err := c.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestColdBootSleepsWithDefaults(t *testing.T) {
	h := newHarness()
	n := h.node(t, 0)

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Cold)
	assert.Equal(t, dutycycle.Decision{Action: dutycycle.Sleep, SleepFor: 30 * time.Second}, out.Decision)
	assert.True(t, out.SentOwn)
	assert.Equal(t, entities.Synchronized, out.State.Sync, "fake link acknowledges every send")

	r, cold, err := h.store.Load()
	require.NoError(t, err)
	assert.False(t, cold)
	assert.Equal(t, retained.TimerWake, r.Boot)
	assert.Equal(t, uint32(30_000_000), r.State.SleepUS)
	assert.Equal(t, uint32(2_000_000), r.State.ActiveUS)

	sends := h.link.Sent()
	require.Len(t, sends, 1)
	assert.Equal(t, messages.KindData, sends[0].kind)
	assert.Equal(t, entities.DefaultAddresses[1], sends[0].dst)
	assert.Len(t, sends[0].payload, entities.SnapshotSize)
}

func TestDataAndCommandRestart(t *testing.T) {
	h := newHarness()
	h.seed(t, func(r *retained.Retained) {
		r.State.SleepUS = 30_000_000
		r.State.ActiveUS = 2_000_000
		r.Boot = retained.RestartBoot
	})
	n := h.node(t, 0)
	from := entities.DefaultAddresses[3]
	n.HandleDatagram(model.Datagram{Sender: from, Kind: messages.KindCommand,
		Payload: commandBytes(t, entities.TimingCommand{Target: 0, Kind: entities.SetActiveDuration, Duration: 5})})
	n.HandleDatagram(model.Datagram{Sender: from, Kind: messages.KindData, Payload: peerSnapshot(t, 3)})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dutycycle.Restart, out.Decision.Action)
	assert.True(t, out.NewData)
	assert.True(t, out.NewCommand)
	assert.False(t, out.SentOwn, "no own send after a data restart")
	require.NotNil(t, out.Relayed)
	assert.Equal(t, uint32(5), out.Relayed.Duration)

	r, _, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(5_000_000), r.State.ActiveUS)
	assert.Equal(t, uint32(30_000_000), r.State.SleepUS)
	assert.False(t, r.State.NewData)
	assert.False(t, r.State.NewCommand)
	assert.Nil(t, r.Pending, "relayed once")
	assert.Equal(t, retained.RestartBoot, r.Boot)
	assert.Equal(t, entities.Synchronized, r.State.Sync)

	peer, ok := r.Table.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint16(777), peer.Luminosity)
	assert.Equal(t, model.BoardID(3), peer.BoardID)

	require.Len(t, h.coll.batches, 1)
	assert.Len(t, h.coll.batches[0], 4)

	sends := h.link.Sent()
	require.Len(t, sends, 1)
	assert.Equal(t, messages.KindCommand, sends[0].kind)
}

func TestOversizedPayloadLeavesTable(t *testing.T) {
	h := newHarness()
	n := h.node(t, 0)
	n.HandleDatagram(model.Datagram{Kind: messages.KindData, Payload: make([]byte, 20)})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, out.MergeErr, aggregator.ErrOversizedPayload)
	assert.Equal(t, dutycycle.Sleep, out.Decision.Action)
	assert.Empty(t, h.coll.batches)

	r, _, err := h.store.Load()
	require.NoError(t, err)
	peer, _ := r.Table.Get(1)
	assert.Equal(t, entities.SensorSnapshot{}, peer)
	assert.Equal(t, float64(1), testutil.ToFloat64(n.Metrics().MergeErrors))
}

func TestUnchangedCommandNotRelayed(t *testing.T) {
	h := newHarness()
	h.seed(t, func(r *retained.Retained) { r.Boot = retained.RestartBoot })
	n := h.node(t, 0)
	n.HandleDatagram(model.Datagram{Kind: messages.KindCommand,
		Payload: commandBytes(t, entities.TimingCommand{Kind: entities.SetSleepDuration, Duration: 30})})
	n.HandleDatagram(model.Datagram{Kind: messages.KindData, Payload: peerSnapshot(t, 3)})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, out.NewCommand, "a valid command counts as received even when it changes nothing")
	assert.Nil(t, out.Relayed)
	assert.Empty(t, h.link.Sent())
	assert.Equal(t, float64(1), testutil.ToFloat64(n.Metrics().CommandsApplied.WithLabelValues("peer")))
}

func TestCommandTrailingDataIsApplied(t *testing.T) {
	h := newHarness()
	h.seed(t, func(r *retained.Retained) { r.Boot = retained.RestartBoot })
	n := h.node(t, 0)
	from := entities.DefaultAddresses[3]
	cmd := commandBytes(t, entities.TimingCommand{Kind: entities.SetActiveDuration, Duration: 5})
	h.coll.onDeliver = func() {
		n.HandleDatagram(model.Datagram{Sender: from, Kind: messages.KindCommand, Payload: cmd})
	}
	n.HandleDatagram(model.Datagram{Sender: from, Kind: messages.KindData, Payload: peerSnapshot(t, 3)})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dutycycle.Restart, out.Decision.Action)
	assert.True(t, out.NewData)
	assert.True(t, out.NewCommand)
	require.NotNil(t, out.Relayed)
	assert.Equal(t, entities.SetActiveDuration, out.Relayed.Kind)

	r, _, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(5_000_000), r.State.ActiveUS)
	assert.Nil(t, r.Pending)
}

func TestCommandWithinGraceIsApplied(t *testing.T) {
	h := newHarness()
	h.seed(t, func(r *retained.Retained) { r.Boot = retained.RestartBoot })
	n := h.node(t, 0)
	n.HandleDatagram(model.Datagram{Kind: messages.KindData, Payload: peerSnapshot(t, 3)})
	cmd := commandBytes(t, entities.TimingCommand{Kind: entities.SetSleepDuration, Duration: 45})
	h.coll.onDeliver = func() {
		go func() {
			time.Sleep(10 * time.Millisecond)
			n.HandleDatagram(model.Datagram{Kind: messages.KindCommand, Payload: cmd})
		}()
	}

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, out.NewCommand)
	assert.Equal(t, uint32(45_000_000), out.State.SleepUS)
}

func TestHungCollectorDoesNotHoldRestart(t *testing.T) {
	h := newHarness()
	h.coll.hang = true
	n, err := New(Config{
		Board:           0,
		Capacity:        4,
		Peer:            entities.DefaultAddresses[1],
		PollInterval:    time.Millisecond,
		DeliveryTimeout: 20 * time.Millisecond,
		CommandGrace:    time.Millisecond,
	}, Deps{
		Store:     h.store,
		Clock:     &stepClock{now: time.Unix(1_700_000_000, 0), step: 100 * time.Millisecond},
		Producer:  sim.NewDataGenerator(sim.FixedSupply(3.3), sim.ESP32Thresholds, 1),
		Link:      h.link,
		Collector: h.coll,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	n.HandleDatagram(model.Datagram{Kind: messages.KindData, Payload: peerSnapshot(t, 3)})

	start := time.Now()
	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, out.DeliveryErr, context.DeadlineExceeded)
	assert.Equal(t, dutycycle.Restart, out.Decision.Action)
	assert.Equal(t, float64(1), testutil.ToFloat64(n.Metrics().DeliveryErrors))
}

func TestInvalidCommandKeepsState(t *testing.T) {
	h := newHarness()
	n := h.node(t, 0)
	n.HandleDatagram(model.Datagram{Kind: messages.KindCommand,
		Payload: commandBytes(t, entities.TimingCommand{Target: 2, Kind: entities.SetSleepDuration, Duration: 99})})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Error(t, out.CommandErr)
	assert.Equal(t, uint32(30_000_000), out.State.SleepUS)
	assert.Equal(t, dutycycle.Sleep, out.Decision.Action)
}

func TestLocalCommandPersistsAndRelaysNextCycle(t *testing.T) {
	h := newHarness()
	h.seed(t, func(r *retained.Retained) { r.Boot = retained.RestartBoot })
	n := h.node(t, 0)
	n.SubmitLocal(entities.TimingCommand{Kind: entities.SetSleepDuration, Duration: 60})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dutycycle.Decision{Action: dutycycle.Sleep, SleepFor: time.Minute}, out.Decision)
	assert.Empty(t, h.link.Sent())

	// next wake: timer wake sends own snapshot and the pending command
	n2 := h.node(t, 0)
	out, err = n2.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, out.SentOwn)
	require.NotNil(t, out.Relayed)
	assert.Equal(t, entities.SetSleepDuration, out.Relayed.Kind)

	kinds := []messages.DatagramKind{}
	for _, s := range h.link.Sent() {
		kinds = append(kinds, s.kind)
	}
	assert.Equal(t, []messages.DatagramKind{messages.KindData, messages.KindCommand}, kinds)
}

func TestSendFailureDesynchronizes(t *testing.T) {
	h := newHarness()
	h.link.err = errors.New("peer asleep")
	h.seed(t, func(r *retained.Retained) {
		r.State.Sync = entities.Synchronized
		r.Boot = retained.TimerWake
	})
	n := h.node(t, 0)
	assert.True(t, n.Tracker().Synchronized())

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entities.Desynchronized, out.State.Sync)
}

func TestCollectorFailureIsCounted(t *testing.T) {
	h := newHarness()
	h.coll.err = collector.ErrDelivery
	n := h.node(t, 0)
	n.HandleDatagram(model.Datagram{Kind: messages.KindData, Payload: peerSnapshot(t, 3)})

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, out.DeliveryErr, collector.ErrDelivery)
	assert.Equal(t, dutycycle.Restart, out.Decision.Action)
	assert.Equal(t, float64(1), testutil.ToFloat64(n.Metrics().DeliveryErrors))
}

func TestDegradedModeWithoutLink(t *testing.T) {
	store := retained.NewMemStore(4)
	n, err := New(Config{Board: 1, Capacity: 4, PollInterval: time.Millisecond}, Deps{
		Store:    store,
		Clock:    &stepClock{now: time.Unix(0, 0), step: time.Second},
		Producer: sim.NewDataGenerator(nil, sim.ESP8266Thresholds, 7),
		Logger:   zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	out, err := n.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, out.SentOwn)
	assert.Equal(t, dutycycle.Sleep, out.Decision.Action)
	assert.Equal(t, entities.Desynchronized, out.State.Sync)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Board: 4, Capacity: 4}, Deps{Store: retained.NewMemStore(4), Producer: sim.NewDataGenerator(nil, sim.ESP32Thresholds, 1)})
	assert.Error(t, err)
	_, err = New(Config{Board: 0, Capacity: 5}, Deps{Store: retained.NewMemStore(4), Producer: sim.NewDataGenerator(nil, sim.ESP32Thresholds, 1)})
	assert.Error(t, err)
}

func TestRunCycleHonoursCancel(t *testing.T) {
	h := newHarness()
	n, err := New(Config{Board: 0, Capacity: 4, Peer: entities.DefaultAddresses[1], PollInterval: time.Hour}, Deps{
		Store:    h.store,
		Clock:    &stepClock{now: time.Unix(0, 0)},
		Producer: sim.NewDataGenerator(nil, sim.ESP32Thresholds, 1),
		Link:     h.link,
		Logger:   zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = n.RunCycle(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecoverFallsBackToStoredSleep(t *testing.T) {
	h := newHarness()
	h.seed(t, func(r *retained.Retained) {
		r.State.SleepUS = 45_000_000
		r.Boot = retained.RestartBoot
	})
	n := h.node(t, 0)

	d := n.Recover(Outcome{})
	assert.Equal(t, dutycycle.Decision{Action: dutycycle.Sleep, SleepFor: 45 * time.Second}, d)

	r, _, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, retained.TimerWake, r.Boot)

	restart := dutycycle.Decision{Action: dutycycle.Restart}
	assert.Equal(t, restart, n.Recover(Outcome{Decision: restart}))
}
