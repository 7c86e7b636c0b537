package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/services/meshctl"
)

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	nodes := flag.String("nodes", envStr("MESH_NODES", "localhost:50051"), "comma separated gRPC addresses of the nodes")
	wait := flag.Duration("wait", 2*time.Minute, "how long to keep trying a sleeping node")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: meshctl [flags] <A|S><seconds>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	line := flag.Arg(0)

	logger, _ := zap.NewDevelopment()
	if !*verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zap.InfoLevel))
	}
	defer logger.Sync()
	s := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := meshctl.NewSubmitter(meshctl.Settings{Wait: *wait}, s)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, addr := range strings.Split(*nodes, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			ack, err := sub.Submit(ctx, addr, line)
			if err != nil {
				s.Errorf("%s: %v", addr, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			s.Infof("%s: %s", addr, ack)
		}(addr)
	}
	wg.Wait()
	if failed > 0 {
		os.Exit(1)
	}
}
