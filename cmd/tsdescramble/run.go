package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gizahNL/upipe/internal/descrambler"
	"github.com/gizahNL/upipe/internal/ingest"
	srtingest "github.com/gizahNL/upipe/internal/ingest/srt"
	"github.com/gizahNL/upipe/internal/mpegts"
	"github.com/gizahNL/upipe/internal/pipeline"
)

type options struct {
	input   string
	output  string
	evenCW  string
	oddCW   string
	pids    []uint16
	latency time.Duration
	flow    string
}

func run(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	viper.SetEnvPrefix("TSDESCRAMBLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := setupLogging(); err != nil {
		return err
	}

	opts, err := loadOptions()
	if err != nil {
		return err
	}
	if opts.evenCW == "" {
		return errors.New("an even control word is required")
	}
	if len(opts.pids) == 0 {
		return errors.New("at least one --pid is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, closeOut, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer closeOut()

	if addr, ok := strings.CutPrefix(opts.input, "srt://"); ok {
		return runSRT(ctx, addr, out, opts)
	}

	in, closeIn, err := openInput(opts.input)
	if err != nil {
		return err
	}
	defer closeIn()
	return descramble(ctx, in, out, opts)
}

// descramble runs one stream through a freshly configured descrambler.
func descramble(ctx context.Context, in io.Reader, out io.Writer, opts options) error {
	log := slog.Default()
	sink := pipeline.NewWriterSink(out, log)

	var flow *descrambler.FlowDef
	if opts.latency > 0 {
		flow = &descrambler.FlowDef{Def: opts.flow, Latency: opts.latency}
	}
	dsc := descrambler.New(descrambler.Config{
		Sink: sink,
		Flow: flow,
		Log:  log,
	})
	defer dsc.Close()

	if err := dsc.SetFlowDef(&descrambler.FlowDef{Def: opts.flow}); err != nil {
		return fmt.Errorf("set flow definition: %w", err)
	}
	if err := dsc.SetKey(opts.evenCW, opts.oddCW); err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	for _, pid := range opts.pids {
		if err := dsc.AddPID(pid); err != nil {
			return err
		}
	}

	p := pipeline.New(mpegts.NewReader(in), dsc, log)
	err := p.Run(ctx)
	log.Info("stream finished",
		"packets_in", p.PacketsIn(),
		"packets_out", sink.PacketsOut(),
	)
	return err
}

// runSRT listens for SRT publishers and descrambles them one at a time.
func runSRT(ctx context.Context, addr string, out io.Writer, opts options) error {
	log := slog.Default()
	g, ctx := errgroup.WithContext(ctx)

	intake := ingest.NewIntake(func(key string, in io.Reader) {
		log.Info("descrambling stream", "key", key)
		if err := descramble(ctx, in, out, opts); err != nil {
			log.Error("pipeline failed", "key", key, "error", err)
		}
	})

	srv := srtingest.NewServer(addr, intake, log)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	return g.Wait()
}

func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	var w io.Writer = os.Stderr
	if path := viper.GetString("log-file"); path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

func loadOptions() (options, error) {
	opts := options{
		input:   viper.GetString("input"),
		output:  viper.GetString("output"),
		evenCW:  viper.GetString("even-cw"),
		oddCW:   viper.GetString("odd-cw"),
		latency: viper.GetDuration("latency"),
		flow:    viper.GetString("flow"),
	}
	pids, err := parsePIDs(viper.GetStringSlice("pid"))
	if err != nil {
		return options{}, err
	}
	opts.pids = pids
	return opts, nil
}

func parsePIDs(raw []string) ([]uint16, error) {
	pids := make([]uint16, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil || v > mpegts.MaxPID {
			return nil, fmt.Errorf("invalid pid %q", s)
		}
		pids = append(pids, uint16(v))
	}
	return pids, nil
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
