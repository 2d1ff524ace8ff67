package main

import (
	"errors"
	"flag"
	"fmt"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/hclgraph"
)

type inspectCommand struct {
	graph  string
	format bool
}

func (cmd *inspectCommand) Name() string {
	return "inspect"
}

func (cmd *inspectCommand) Help() string {
	return "Show nodes, render order and latency of graph"
}

func (cmd *inspectCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.graph, "graph", "", "graph document (required)")
	fs.BoolVar(&cmd.format, "fmt", false, "print the document in canonical form")
}

func (cmd *inspectCommand) Run(config *config) error {
	if cmd.graph == "" {
		return errors.New("missing -graph required flag")
	}
	g, err := config.loadGraph(cmd.graph, audiograph.Config{})
	if err != nil {
		return err
	}
	defer g.Close()

	if cmd.format {
		doc, err := hclgraph.FromGraph(g)
		if err != nil {
			return err
		}
		_, err = config.stdout.Write(hclgraph.Encode(doc))
		return err
	}

	cfg := g.Config()
	fmt.Fprintf(config.stdout, "Graph %s\n", g.ID())
	fmt.Fprintf(config.stdout, "\tsample rate: %v\n\tblock size: %d\n\tlatency: %d\n", cfg.SampleRate, cfg.MaxBlockSize, g.LatencySamples())
	fmt.Fprintln(config.stdout, "Nodes:")
	for _, n := range g.Nodes() {
		kind := n.Kind.String()
		if p, ok := g.Processor(n.ID); ok {
			if k, ok := p.(interface{ Kind() string }); ok {
				kind = k.Kind()
			}
		}
		fmt.Fprintf(config.stdout, "\t%v\t%s\t%v\tlatency=%d", n.ID, kind, n.Layout, n.Latency)
		if n.Bypassed {
			fmt.Fprint(config.stdout, "\tbypassed")
		}
		fmt.Fprintln(config.stdout)
	}
	fmt.Fprintln(config.stdout, "Connections:")
	for _, c := range g.Connections() {
		fmt.Fprintf(config.stdout, "\t%v\n", c)
	}
	fmt.Fprintf(config.stdout, "Order: %v\n", g.Order())
	return nil
}
