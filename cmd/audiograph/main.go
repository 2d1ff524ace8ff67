package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/dsp"
	"pipelined.dev/audiograph/hclgraph"
	"pipelined.dev/audiograph/log"
)

type config struct {
	args   []string
	stdout io.Writer
	log    logrus.FieldLogger
}

type command interface {
	Name() string
	Help() string
	Run(*config) error
	Register(*flag.FlagSet)
}

func (config *config) run() int {
	cmdName, args := parseArgs(config.args)
	if cmdName == "" {
		config.printUsage()
		return errorExitCode
	}

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}
		flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		flags.SetOutput(config.stdout)
		cmd.Register(flags)
		if err := flags.Parse(args); err != nil {
			return errorExitCode
		}
		if err := cmd.Run(config); err != nil {
			fmt.Fprintf(config.stdout, "Command failed: %v\n", err)
			return errorExitCode
		}
		return successExitCode
	}
	config.printUsage()
	return errorExitCode
}

var (
	successExitCode = 0
	errorExitCode   = 1
	commands        = []command{
		&renderCommand{},
		&inspectCommand{},
		&kindsCommand{},
	}
)

func main() {
	c := config{
		args:   os.Args,
		stdout: os.Stdout,
		log:    log.GetLogger(),
	}
	os.Exit(c.run())
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func (config *config) printUsage() {
	fmt.Fprintln(config.stdout, "Audiograph renders audio processing graphs")
	fmt.Fprintln(config.stdout)
	fmt.Fprintln(config.stdout, "Usage: audiograph <command> [flags]")
	fmt.Fprintln(config.stdout)
	fmt.Fprintln(config.stdout, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(config.stdout, "\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}

func registry() *hclgraph.Registry {
	return hclgraph.NewRegistry(dsp.Factories())
}

// loadGraph decodes graph document and creates graph from it. Settings
// of the document are overridden by non-zero values of override.
func (config *config) loadGraph(path string, override audiograph.Config) (*audiograph.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := hclgraph.Decode(src, path)
	if err != nil {
		return nil, err
	}
	cfg := doc.Settings.Config()
	if override.SampleRate != 0 {
		cfg.SampleRate = override.SampleRate
	}
	if override.MaxBlockSize != 0 {
		cfg.MaxBlockSize = override.MaxBlockSize
	}
	if override.NumInputs != 0 {
		cfg.NumInputs = override.NumInputs
	}
	g, err := audiograph.New(cfg, audiograph.WithLogger(config.log))
	if err != nil {
		return nil, err
	}
	if err := hclgraph.Apply(g, doc, registry()); err != nil {
		_ = g.Close()
		return nil, err
	}
	return g, nil
}
