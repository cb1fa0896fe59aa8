package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/comm"
)

var (
	addr     = flag.String("addr", "127.0.0.1:8080", "listen address")
	workers  = flag.Int("workers", 8, "listener pool size")
	clients  = flag.Int("clients", 16, "number of concurrent connectors")
	messages = flag.Int("messages", 1000, "messages per connector")
	bodySize = flag.Int("size", comm.DefaultBodySize, "message body size")
	wait     = flag.Bool("wait", false, "wait for each reply before posting the next message")
	verbose  = flag.Bool("v", false, "log connection events")
)

// runClient posts n messages followed by END and counts the replies.
func runClient(ctx context.Context, proc *comm.CommProcessing, n int, waitReply bool, logger comm.Logger, replies *atomic.Int64) error {
	conn, err := comm.NewConnector(ctx, *addr, proc, comm.LoggerOption(logger))
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
		_ = conn.Wait()
	}()

	msg := proc.NewMessage()
	msg.SetContentString("echo")

	if waitReply {
		for i := 0; i < n; i++ {
			if err := conn.PostMessage(msg.Clone()); err != nil {
				return err
			}
			if _, err := conn.GetMessage(); err != nil {
				return err
			}
			replies.Add(1)
		}
	} else {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if _, err := conn.GetMessage(); err != nil {
					slog.Error("get message", "error", err)
					return
				}
				replies.Add(1)
			}
		}()
		for i := 0; i < n; i++ {
			if err := conn.PostMessage(msg.Clone()); err != nil {
				return err
			}
		}
		wg.Wait()
	}

	end := proc.NewMessage()
	end.SetType(comm.TypeEnd)
	if err := conn.PostMessage(end); err != nil {
		return err
	}
	return conn.Wait()
}

func main() {
	flag.Parse()

	logger := comm.NopLogger()
	if *verbose {
		logger = slog.Default()
	}

	proc := comm.NewCommProcessing(comm.FixedFrame{BodySize: *bodySize}, logger)

	listener, err := comm.NewListener(*workers, proc, comm.LoggerOption(logger))
	if err != nil {
		slog.Error("failed to create listener", "error", err)
		os.Exit(1)
	}
	if err := listener.Start(*addr); err != nil {
		slog.Error("failed to start listener", "error", err)
		os.Exit(1)
	}

	var replies atomic.Int64
	start := time.Now()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *clients; i++ {
		g.Go(func() error {
			return runClient(ctx, proc, *messages, *wait, logger, &replies)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("client failed", "error", err)
	}

	elapsed := time.Since(start)
	total := replies.Load()
	frame := int64(proc.Framing().FrameSize(proc.NewMessage()))
	slog.Info("done",
		"clients", *clients,
		"replies", total,
		"elapsed", elapsed,
		"msgs_per_sec", float64(total)/elapsed.Seconds(),
		"mb_per_sec", float64(total*frame)/1e6/elapsed.Seconds())

	if err := listener.Stop(); err != nil {
		slog.Error("failed to stop listener", "error", err)
	}
	if err := listener.Wait(); err != nil {
		slog.Error("listener error", "error", err)
	}
}
