package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/driver"
	"pipelined.dev/audiograph/file"
	audiosignal "pipelined.dev/audiograph/signal"
)

type renderCommand struct {
	graph     string
	in        string
	out       string
	seconds   float64
	blockSize int
	bitDepth  int
}

func (cmd *renderCommand) Name() string {
	return "render"
}

func (cmd *renderCommand) Help() string {
	return "Render graph offline into wav file"
}

func (cmd *renderCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.graph, "graph", "", "graph document (required)")
	fs.StringVar(&cmd.in, "in", "", "input audio file: wav, mp3 or ogg")
	fs.StringVar(&cmd.out, "out", "", "output wav file (required)")
	fs.Float64Var(&cmd.seconds, "length", 0, "length in seconds when there is no input")
	fs.IntVar(&cmd.blockSize, "block", audiograph.DefaultMaxBlockSize, "block size in samples")
	fs.IntVar(&cmd.bitDepth, "bitdepth", 16, "bit depth of output file")
}

func (cmd *renderCommand) validate() error {
	var errs []error
	if cmd.graph == "" {
		errs = append(errs, errors.New("missing -graph required flag"))
	}
	if cmd.out == "" {
		errs = append(errs, errors.New("missing -out required flag"))
	}
	if cmd.in == "" && cmd.seconds <= 0 {
		errs = append(errs, errors.New("either -in or -length must be provided"))
	}
	return errors.Join(errs...)
}

func (cmd *renderCommand) Run(config *config) (err error) {
	if err := cmd.validate(); err != nil {
		return err
	}

	override := audiograph.Config{MaxBlockSize: cmd.blockSize}
	var source file.Source
	if cmd.in != "" {
		if source, err = file.Open(cmd.in); err != nil {
			return err
		}
		defer source.Close()
		override.SampleRate = float64(source.SampleRate())
		override.NumInputs = source.NumChannels()
	}
	g, err := config.loadGraph(cmd.graph, override)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := g.Close(); err == nil {
			err = closeErr
		}
	}()

	cfg := g.Config()
	sink, err := file.Create(cmd.out, int(cfg.SampleRate), cfg.NumOutputs, audiosignal.BitDepth(cmd.bitDepth))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sink.Close(); err == nil {
			err = closeErr
		}
	}()

	o := driver.Offline{
		Graph:      g,
		Source:     source,
		Sink:       sink,
		NumInputs:  cfg.NumInputs,
		NumOutputs: cfg.NumOutputs,
		BlockSize:  cfg.MaxBlockSize,
		Length:     int64(cmd.seconds * cfg.SampleRate),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	n, err := o.Run(ctx)
	if err != nil {
		return err
	}
	if err := g.Faults(); err != nil {
		config.log.WithError(err).Warn("nodes faulted during render")
	}
	fmt.Fprintf(config.stdout, "Rendered %v (%d samples) into %s\n", audiosignal.DurationOf(cfg.SampleRate, n), n, cmd.out)
	return nil
}
