package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	sim "github.com/LeonardoBeccarini/espcluster/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/espcluster/internal/services/collector"
	"github.com/LeonardoBeccarini/espcluster/internal/services/command"
	"github.com/LeonardoBeccarini/espcluster/internal/services/dutycycle"
	"github.com/LeonardoBeccarini/espcluster/internal/services/node"
	"github.com/LeonardoBeccarini/espcluster/internal/services/retained"
	"github.com/LeonardoBeccarini/espcluster/pkg/dedup"
	"github.com/LeonardoBeccarini/espcluster/pkg/meshlink"
)

func main() {
	cfgPath := flag.String("config", envStr("NODE_CONFIG", ""), "YAML config file")
	once := flag.Bool("once", false, "exit after one cycle instead of sleeping/restarting in place")
	flag.Parse()

	cfg, err := Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	zap.ReplaceGlobals(logger)
	s := logger.Sugar().With("board", cfg.Board)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coll, err := newCollector(cfg, s)
	if err != nil {
		s.Fatalf("collector: %v", err)
	}

	var link *meshlink.Link
	linkCfg := meshlink.Config{
		Host:       cfg.MQTT.Host,
		Port:       cfg.MQTT.Port,
		User:       cfg.MQTT.User,
		Password:   cfg.MQTT.Password,
		ClientID:   fmt.Sprintf("espnode-%d-%s", cfg.Board, uuid.NewString()[:8]),
		Prefix:     cfg.MQTT.Prefix,
		QoS:        byte(cfg.MQTT.QoS),
		AckTimeout: cfg.MQTT.AckTimeout,
	}
	if *cfg.MQTT.Enabled && cfg.MeshSize > 1 {
		client, err := meshlink.Connect(ctx, linkCfg, s)
		if err != nil {
			// degraded mode: the cycle still runs and persists, without peers
			s.Warnf("Running without link: %v", err)
		} else {
			link = meshlink.New(client, linkCfg, cfg.Self(), dedup.New(cfg.MQTT.DedupTTL), s)
		}
	}

	deps := node.Deps{
		Store:     retained.NewFileStore(cfg.RetainedPath, cfg.MeshSize, s),
		Producer:  sim.NewDataGenerator(sim.FixedSupply(cfg.SupplyVolts), sim.ThresholdsFor(cfg.Chip), 0),
		Collector: coll,
		Logger:    s,
	}
	if link != nil {
		deps.Link = link
	}
	n, err := node.New(node.Config{
		Board:         entities.BoardID(cfg.Board),
		Capacity:      cfg.MeshSize,
		Peer:          cfg.Peer(),
		CommandTarget: entities.BoardID(cfg.CommandTarget),
		PollInterval:  cfg.PollInterval,
		// the hand-off must end before the neighbour's next exchange
		DeliveryTimeout: cfg.Collector.Timeout,
		CommandGrace:    cfg.CommandGrace,
	}, deps)
	if err != nil {
		s.Fatalf("node: %v", err)
	}
	if link != nil {
		if err := link.Listen(n.HandleDatagram); err != nil {
			s.Warnf("Link listen failed: %v", err)
		}
	}

	startLineInput(ctx, cfg, n, s)
	grpcSrv := startGRPC(cfg, n, s)

	cleanup := func() {
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		if link != nil {
			link.Close()
		}
		_ = coll.Close()
		_ = logger.Sync()
	}

	out, err := n.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.Info("Interrupted, retained state saved")
			cleanup()
			return
		}
		s.Errorf("Cycle failed: %v", err)
	}
	out.Decision = n.Recover(out)

	if err := n.Metrics().Push(cfg.Metrics.Pushgateway, n.BoardLabel()); err != nil {
		s.Warnf("Metrics push failed: %v", err)
	}

	if *once {
		s.Infof("Cycle ended with %s (%s), exiting", out.Decision.Action, out.Decision.SleepFor)
		cleanup()
		return
	}

	platform, err := node.NewExecPlatform(cleanup, s)
	if err != nil {
		s.Fatalf("platform: %v", err)
	}
	if err := dutycycle.Execute(ctx, out.Decision, platform); err != nil && !errors.Is(err, context.Canceled) {
		s.Fatalf("terminal transition: %v", err)
	}
}

func newLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func newCollector(cfg *Config, s *zap.SugaredLogger) (collector.Collector, error) {
	switch strings.ToLower(cfg.Collector.Kind) {
	case "rest":
		return collector.NewREST(cfg.Collector.URL, cfg.Collector.Timeout, s), nil
	case "influx":
		ic := cfg.Collector.Influx
		return collector.NewInflux(collector.InfluxConfig{
			URL:         ic.URL,
			Token:       ic.Token,
			Org:         ic.Org,
			Bucket:      ic.Bucket,
			Measurement: ic.Measurement,
		}, s)
	default:
		return collector.Nop{}, nil
	}
}

func startLineInput(ctx context.Context, cfg *Config, n *node.Node, s *zap.SugaredLogger) {
	var r io.Reader
	switch cfg.CommandInput.Device {
	case "":
		return
	case "-":
		r = os.Stdin
	default:
		f, err := os.Open(cfg.CommandInput.Device)
		if err != nil {
			s.Warnf("Command device %s unavailable: %v", cfg.CommandInput.Device, err)
			return
		}
		r = f
	}

	reader := command.NewLineReader(r, entities.BoardID(cfg.CommandTarget))
	go func() {
		err := reader.Run(ctx, n.SubmitLocal, func(line string, err error) {
			s.Warnf("Ignoring command line %q: %v", line, err)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.Warnf("Command input stopped: %v", err)
		}
	}()
}

func startGRPC(cfg *Config, n *node.Node, s *zap.SugaredLogger) *grpc.Server {
	if cfg.CommandInput.GRPCAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", cfg.CommandInput.GRPCAddr)
	if err != nil {
		s.Warnf("gRPC command input disabled: %v", err)
		return nil
	}
	srv := grpc.NewServer()
	command.RegisterCommandInputServer(srv, command.NewGrpcHandler(entities.BoardID(cfg.CommandTarget), n.SubmitLocal, s))
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.Warnf("gRPC server stopped: %v", err)
		}
	}()
	s.Infof("gRPC command input on %s", cfg.CommandInput.GRPCAddr)
	return srv
}
