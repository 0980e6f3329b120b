// orientlog-ship reads newline-delimited JSON log events from stdin or a file
// and ships them to an OrientDB-style document store in batches.
//
// Each line becomes one record. Well-known members (@t, @l, @mt, @m, @x and
// their log/slog spellings) fill the record header and the remaining members
// become structured properties. Lines that are not JSON are shipped verbatim
// as Information events.
//
// The command runs until its input ends or it receives SIGINT or SIGTERM,
// then delivers whatever is still buffered before it exits.
//
// Usage:
//
//	orientlog-ship --server http://localhost:2480 --database logs < app.log
//	orientlog-ship --config ship.yaml --input app.log
//	orientlog-ship --dump < app.log > events.msgpack
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bitdabbler/orientlog"
)

// maxLineSize bounds a single log line.
const maxLineSize = 1 << 20

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "orientlog-ship: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) error {
	cfg, err := loadConfig(args, getenv, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	// route the shipping stack's diagnostics through the command's logger
	orientlog.SetInternalLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	in := stdin
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var out orientlog.Emitter
	if cfg.Dump {
		out = newDumper(stdout)
	} else {
		client, err := orientlog.NewClient(cfg.Server, cfg.Database, cfg.clientOptions())
		if err != nil {
			return fmt.Errorf("creating client: %w", err)
		}
		sink, err := orientlog.NewSink(client, cfg.sinkOptions())
		if err != nil {
			return fmt.Errorf("creating sink: %w", err)
		}
		out = sink
	}

	runID := uuid.NewString()
	logger.Info("shipping log lines", "server", cfg.Server, "database", cfg.Database, "class", cfg.Class, "run", runID)

	n, readErr := ship(ctx, in, newLineParser(runID), out)
	if readErr != nil {
		logger.Error("reading input failed", "error", readErr)
	}
	if ctx.Err() != nil {
		logger.Info("interrupted, delivering buffered events")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.CloseTimeout))
	defer cancel()
	if err := out.Close(closeCtx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	logger.Info("done", "lines", n, "run", runID)
	return readErr
}

// ship emits one event per non-blank line of r until r is exhausted or ctx
// is done. It returns the number of events emitted.
func ship(ctx context.Context, r io.Reader, p *lineParser, out orientlog.Emitter) (int, error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- bytes.Clone(line):
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- sc.Err()
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, nil
		case line, ok := <-lines:
			if !ok {
				return n, <-errc
			}
			out.Emit(p.parse(line))
			n++
		}
	}
}

// dumper writes events to w as a stream of msgpack maps. Events that fail to
// serialize are reported and skipped.
type dumper struct {
	w   *bufio.Writer
	err error
}

func newDumper(w io.Writer) *dumper {
	return &dumper{w: bufio.NewWriter(w)}
}

func (d *dumper) Emit(ev orientlog.LogEvent) {
	b, err := msgpack.Marshal(&ev)
	if err != nil {
		orientlog.InternalLogger().Printf("dropping event that failed to serialize: %v", err)
		return
	}
	if _, err := d.w.Write(b); err != nil && d.err == nil {
		d.err = err
	}
}

func (d *dumper) Close(context.Context) error {
	return errors.Join(d.err, d.w.Flush())
}
