// Command shmstore-server runs the shared-memory object store daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/ehrlich-b/shmstore"
	"github.com/ehrlich-b/shmstore/internal/config"
	"github.com/ehrlich-b/shmstore/internal/dispatch"
	"github.com/ehrlich-b/shmstore/internal/logging"
)

func main() {
	var (
		socketPath  = flag.String("s", "", "AF_UNIX socket path to listen on (required)")
		verbose     = flag.Bool("v", false, "Verbose (debug-level) logging")
		metricsAddr = flag.String("metrics-addr", "", "If set, serve Prometheus metrics at http://<addr>/metrics")
		segSizeStr  = flag.String("arena-segment-size", "64M", "Size of each arena growth segment (e.g. 64M, 1G)")
	)
	flag.Parse()

	if *socketPath == "" {
		log.Fatal("-s <socket path> is required")
	}

	segSize, err := parseSize(*segSizeStr)
	if err != nil {
		log.Fatalf("invalid -arena-segment-size %q: %v", *segSizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	logger.Info("starting shmstore-server", "socket", *socketPath, "arena_segment_size", *segSizeStr)
	if *metricsAddr != "" {
		logger.Info("metrics endpoint enabled", "addr", *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Config{
		SocketPath:       *socketPath,
		MetricsAddr:      *metricsAddr,
		ArenaSegmentSize: segSize,
		Logger:           logger,
	}

	srv, err := shmstore.NewServer(cfg)
	if err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	installStackDumpHandler(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-serveErrCh
		if err := srv.Close(); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
		os.Exit(0)

	case err := <-serveErrCh:
		closeErr := srv.Close()
		if err == nil {
			if closeErr != nil {
				logger.Error("error during shutdown", "error", closeErr)
				os.Exit(1)
			}
			os.Exit(0)
		}
		var fatal *dispatch.FatalError
		if errors.As(err, &fatal) {
			logger.Error("fatal precondition violation, terminating", "op", fatal.Op, "error", fatal.Err)
		} else {
			logger.Error("server exited with error", "error", err)
		}
		os.Exit(1)
	}
}

// installStackDumpHandler wires SIGUSR1 to dump every goroutine's stack
// to stderr and to a timestamped file — carried over from
// cmd/ublk-mem/main.go's operability habit.
func installStackDumpHandler(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])

			filename := fmt.Sprintf("shmstore-stacks-%d.txt", time.Now().Unix())
			if f, ferr := os.Create(filename); ferr == nil {
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	numStr := s
	switch s[len(s)-1] {
	case 'K', 'k':
		multiplier = 1024
		numStr = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		numStr = s[:len(s)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-1]
	}
	var num int64
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
