package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model"
	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
	"github.com/LeonardoBeccarini/espcluster/internal/services/aggregator"
	"github.com/LeonardoBeccarini/espcluster/internal/services/collector"
	"github.com/LeonardoBeccarini/espcluster/internal/services/command"
	"github.com/LeonardoBeccarini/espcluster/internal/services/dutycycle"
	"github.com/LeonardoBeccarini/espcluster/internal/services/retained"
	"github.com/LeonardoBeccarini/espcluster/internal/services/synctrack"
)

// Link sends datagrams to the neighbour; done reports delivery from another goroutine.
type Link interface {
	Send(dst model.Addr, kind messages.DatagramKind, payload []byte, done func(error))
}

type Producer interface {
	Produce(board model.BoardID) model.SensorSnapshot
}

type Config struct {
	Board         model.BoardID
	Capacity      int
	Peer          model.Addr
	CommandTarget model.BoardID
	PollInterval  time.Duration
	// SendDrain bounds how long a terminal transition waits for outstanding send results.
	SendDrain time.Duration
	// DeliveryTimeout caps the collector hand-off so it cannot hold the restart.
	DeliveryTimeout time.Duration
	// CommandGrace is how long an exchange waits for a command that trails the snapshot.
	CommandGrace time.Duration
}

type Deps struct {
	Store     retained.Store
	Clock     dutycycle.Clock
	Producer  Producer
	Link      Link // nil runs the node without peers
	Collector collector.Collector
	Indicator Indicator
	Metrics   *Metrics
	Logger    *zap.SugaredLogger
}

// Outcome summarizes one wake cycle.
type Outcome struct {
	CycleID  string
	Boot     retained.BootCause
	Cold     bool
	Decision dutycycle.Decision
	// NewData and NewCommand are the flags as they stood at the exchange, before being consumed.
	NewData     bool
	NewCommand  bool
	SentOwn     bool
	Relayed     *model.TimingCommand
	MergeErr    error
	CommandErr  error
	DeliveryErr error
	// State is what was persisted for the next cycle.
	State model.DutyCycleState

	peerCommand bool
}

type Node struct {
	cfg        Config
	store      retained.Store
	clock      dutycycle.Clock
	producer   Producer
	link       Link
	collector  collector.Collector
	indicator  Indicator
	metrics    *Metrics
	logger     *zap.SugaredLogger
	mailbox    *Mailbox
	tracker    *synctrack.Tracker
	processor  *command.Processor
	aggregator *aggregator.DataAggregator

	r        *retained.Retained
	cold     bool
	inflight sync.WaitGroup
}

// New loads retained memory and wires the cycle components.
func New(cfg Config, deps Deps) (*Node, error) {
	if cfg.Capacity < 1 || cfg.Capacity > entities.MaxBoards {
		return nil, fmt.Errorf("mesh size %d out of range 1..%d", cfg.Capacity, entities.MaxBoards)
	}
	if int(cfg.Board) >= cfg.Capacity {
		return nil, fmt.Errorf("board %d outside mesh of %d", cfg.Board, cfg.Capacity)
	}
	if deps.Store == nil || deps.Producer == nil {
		return nil, errors.New("node needs a retained store and a producer")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.SendDrain <= 0 {
		cfg.SendDrain = 500 * time.Millisecond
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = time.Second
	}
	if cfg.CommandGrace <= 0 {
		cfg.CommandGrace = 100 * time.Millisecond
	}
	if deps.Clock == nil {
		deps.Clock = dutycycle.SystemClock{}
	}
	if deps.Collector == nil {
		deps.Collector = collector.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.S()
	}
	if deps.Indicator == nil {
		deps.Indicator = NewLogIndicator(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	r, cold, err := deps.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load retained: %w", err)
	}

	logger := deps.Logger.With("board", cfg.Board)
	return &Node{
		cfg:        cfg,
		store:      deps.Store,
		clock:      deps.Clock,
		producer:   deps.Producer,
		link:       deps.Link,
		collector:  deps.Collector,
		indicator:  deps.Indicator,
		metrics:    deps.Metrics,
		logger:     logger,
		mailbox:    NewMailbox(),
		tracker:    synctrack.New(r.State.Sync, deps.Metrics.Registry, logger),
		processor:  command.NewProcessor(cfg.CommandTarget, logger),
		aggregator: aggregator.NewDataAggregator(cfg.Board, logger),
		r:          r,
		cold:       cold,
	}, nil
}

// HandleDatagram is the link receive callback.
func (n *Node) HandleDatagram(d model.Datagram) {
	n.tracker.OnReceive()
	n.indicator.Set(true)
	n.mailbox.Put(d)
}

// SubmitLocal queues an operator command for the cycle loop.
func (n *Node) SubmitLocal(c model.TimingCommand) { n.mailbox.PutLocal(c) }

func (n *Node) Tracker() *synctrack.Tracker { return n.tracker }

func (n *Node) Metrics() *Metrics { return n.metrics }

// RunCycle runs one wake cycle up to its terminal decision, which the caller executes.
// Retained memory is persisted before returning.
func (n *Node) RunCycle(ctx context.Context) (Outcome, error) {
	ctrl := dutycycle.NewController(n.clock, n.logger)
	out := Outcome{CycleID: uuid.NewString(), Boot: n.r.Boot, Cold: n.cold}
	n.logger.Infof("Cycle %s boot=%s cold=%v sleep=%s active=%s sync=%s", out.CycleID, out.Boot, out.Cold,
		n.r.State.SleepDuration(), n.r.State.ActiveDuration(), n.tracker.Flag())

	local := n.producer.Produce(n.cfg.Board)
	n.r.Table.Set(int(n.cfg.Board), local)

	// after a data-driven restart the neighbour already has a fresh exchange
	if out.Cold || out.Boot == retained.TimerWake {
		n.sendOwn(local, &out)
	}

	for {
		d, err := ctrl.Step(ctx, n.r.State)
		if err != nil {
			return out, err
		}
		if d.Terminal() {
			n.r.Boot = retained.TimerWake
			return n.finish(ctrl, d, "sleep", out)
		}

		data, cmd, lc := n.mailbox.Take()
		if lc != nil {
			n.applyLocal(*lc, &out)
		}
		if cmd != nil {
			n.applyRemote(*cmd, &out)
		}
		if data != nil {
			n.metrics.Received.WithLabelValues(string(messages.KindData)).Inc()
			if err := n.aggregator.Merge(local, data.Payload, &n.r.Table); err != nil {
				n.logger.Warnf("Discarding snapshot from %s: %v", data.Sender, err)
				n.metrics.MergeErrors.Inc()
				out.MergeErr = err
			} else {
				n.r.State.NewData = true
			}
		}

		if n.r.State.NewData {
			return n.exchange(ctx, ctrl, out)
		}
		if lc != nil || cmd != nil {
			if err := n.persist(); err != nil {
				n.logger.Errorf("Persist after command: %v", err)
			}
		}

		n.indicator.Set(false)
		select {
		case <-ctx.Done():
			if err := n.persist(); err != nil {
				n.logger.Errorf("Persist on shutdown: %v", err)
			}
			return out, ctx.Err()
		case <-n.mailbox.Notify():
		case <-time.After(n.cfg.PollInterval):
		}
	}
}

// exchange hands the table to the collector, picks up a command trailing the
// snapshot, relays the pending command and restarts.
func (n *Node) exchange(ctx context.Context, ctrl *dutycycle.Controller, out Outcome) (Outcome, error) {
	records := messages.RecordsFromTable(&n.r.Table)
	dctx, cancel := context.WithTimeout(ctx, n.cfg.DeliveryTimeout)
	err := n.collector.Deliver(dctx, records)
	cancel()
	if err != nil {
		n.logger.Warnf("Collector delivery failed: %v", err)
		n.metrics.DeliveryErrors.Inc()
		out.DeliveryErr = err
	}

	n.lateCommands(ctx, &out)

	out.NewData, out.NewCommand = n.r.State.NewData, n.r.State.NewCommand
	n.relayPending(&out)

	n.r.State.NewData, n.r.State.NewCommand = false, false
	d, err := ctrl.Restart(ctx)
	if err != nil {
		return out, err
	}
	n.r.Boot = retained.RestartBoot
	return n.finish(ctrl, d, "restart", out)
}

// lateCommands applies commands queued after the snapshot was taken from the mailbox.
// The link does not preserve ordering, so when no peer command has shown up yet the
// exchange waits up to CommandGrace for one.
func (n *Node) lateCommands(ctx context.Context, out *Outcome) {
	grace := time.NewTimer(n.cfg.CommandGrace)
	defer grace.Stop()
	for {
		cmd, lc := n.mailbox.TakeCommands()
		if lc != nil {
			n.applyLocal(*lc, out)
		}
		if cmd != nil {
			n.applyRemote(*cmd, out)
		}
		if out.peerCommand {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-grace.C:
			return
		case <-n.mailbox.Notify():
		}
	}
}

func (n *Node) finish(ctrl *dutycycle.Controller, d dutycycle.Decision, end string, out Outcome) (Outcome, error) {
	n.waitInflight()
	n.r.State.Sync = n.tracker.Flag()
	out.Decision = d
	out.State = n.r.State

	n.metrics.Cycles.WithLabelValues(end).Inc()
	n.metrics.ActiveSeconds.Observe(ctrl.Elapsed().Seconds())
	n.logger.Infof("Cycle %s ends with %s after %s (sync=%s)", out.CycleID, d.Action, ctrl.Elapsed(), out.State.Sync)

	if err := n.store.Save(n.r); err != nil {
		return out, fmt.Errorf("persist retained: %w", err)
	}
	n.cold = false
	return out, nil
}

func (n *Node) applyLocal(c model.TimingCommand, out *Outcome) {
	st, err := n.processor.ApplyCommand(c, n.r.State)
	if err != nil {
		n.metrics.CommandsInvalid.Inc()
		out.CommandErr = err
		return
	}
	n.metrics.CommandsApplied.WithLabelValues("local").Inc()
	n.r.State = st
	n.r.State.NewCommand = true
	n.r.Pending = &c
}

func (n *Node) applyRemote(d model.Datagram, out *Outcome) {
	n.metrics.Received.WithLabelValues(string(messages.KindCommand)).Inc()
	c, err := n.processor.Decode(d.Payload)
	if err == nil {
		var st model.DutyCycleState
		if st, err = n.processor.ApplyCommand(c, n.r.State); err == nil {
			n.metrics.CommandsApplied.WithLabelValues("peer").Inc()
			// only a command that changed something travels on, so the ring settles
			if st.SleepUS != n.r.State.SleepUS || st.ActiveUS != n.r.State.ActiveUS {
				n.r.Pending = &c
			}
			st.NewCommand = true
			n.r.State = st
			out.peerCommand = true
			return
		}
	}
	n.logger.Warnf("Discarding command from %s: %v", d.Sender, err)
	n.metrics.CommandsInvalid.Inc()
	out.CommandErr = err
}

func (n *Node) sendOwn(local model.SensorSnapshot, out *Outcome) {
	if n.link == nil || n.cfg.Capacity < 2 {
		n.logger.Debug("No link or no neighbour, snapshot kept local")
		return
	}
	raw, _ := local.MarshalBinary()
	n.send(messages.KindData, raw)
	out.SentOwn = true
	n.relayPending(out)
}

func (n *Node) relayPending(out *Outcome) {
	if n.r.Pending == nil || n.link == nil || n.cfg.Capacity < 2 {
		return
	}
	c := *n.r.Pending
	raw, _ := c.MarshalBinary()
	n.send(messages.KindCommand, raw)
	n.metrics.Relayed.Inc()
	n.logger.Infof("Relayed %s=%ds to %s", c.Kind, c.Duration, n.cfg.Peer)
	out.Relayed = &c
	n.r.Pending = nil
}

func (n *Node) send(kind messages.DatagramKind, payload []byte) {
	n.inflight.Add(1)
	n.link.Send(n.cfg.Peer, kind, payload, func(err error) {
		n.tracker.OnSendResult(err)
		n.inflight.Done()
	})
}

func (n *Node) waitInflight() {
	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.cfg.SendDrain):
		n.logger.Debug("Send results still pending at cycle end")
	}
}

// Recover turns the outcome of a failed cycle into a terminal decision: a cycle that
// never reached one falls back to sleeping for the stored duration.
func (n *Node) Recover(out Outcome) dutycycle.Decision {
	if out.Decision.Terminal() {
		return out.Decision
	}
	n.r.Boot = retained.TimerWake
	if err := n.persist(); err != nil {
		n.logger.Errorf("Persist before fallback sleep: %v", err)
	}
	return dutycycle.Decision{Action: dutycycle.Sleep, SleepFor: n.r.State.SleepDuration()}
}

func (n *Node) persist() error {
	n.r.State.Sync = n.tracker.Flag()
	return n.store.Save(n.r)
}

// BoardLabel is the metrics grouping value for this node.
func (n *Node) BoardLabel() string { return strconv.Itoa(int(n.cfg.Board)) }
