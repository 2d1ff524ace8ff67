//go:build portaudio

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/driver/portaudio"
)

func init() {
	commands = append(commands, &playCommand{})
}

type playCommand struct {
	graph      string
	duration   time.Duration
	sampleRate float64
	blockSize  int
}

func (cmd *playCommand) Name() string {
	return "play"
}

func (cmd *playCommand) Help() string {
	return "Run graph on the default audio device"
}

func (cmd *playCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.graph, "graph", "", "graph document (required)")
	fs.DurationVar(&cmd.duration, "duration", 0, "stop after duration, runs until interrupted if zero")
	fs.Float64Var(&cmd.sampleRate, "rate", 0, "device sample rate, graph setting if zero")
	fs.IntVar(&cmd.blockSize, "block", audiograph.DefaultMaxBlockSize, "device block size in samples")
}

func (cmd *playCommand) Run(config *config) error {
	if cmd.graph == "" {
		return errors.New("missing -graph required flag")
	}
	g, err := config.loadGraph(cmd.graph, audiograph.Config{SampleRate: cmd.sampleRate, MaxBlockSize: cmd.blockSize})
	if err != nil {
		return err
	}
	defer g.Close()

	cfg := g.Config()
	d, err := portaudio.Open(g, portaudio.Config{
		SampleRate: cfg.SampleRate,
		BlockSize:  cfg.MaxBlockSize,
		NumInputs:  cfg.NumInputs,
		NumOutputs: cfg.NumOutputs,
	}, config.log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cmd.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.duration)
		defer cancel()
	}
	if err := d.Start(); err != nil {
		return err
	}
	fmt.Fprintln(config.stdout, "Playing, press Ctrl+C to stop")

	faults := time.NewTicker(time.Second)
	defer faults.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.Stop()
		case <-faults.C:
			if err := g.Faults(); err != nil {
				config.log.WithError(err).Warn("nodes faulted")
			}
		}
	}
}
