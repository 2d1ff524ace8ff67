package main

import (
	"flag"
	"fmt"
)

type kindsCommand struct{}

func (cmd *kindsCommand) Name() string {
	return "kinds"
}

func (cmd *kindsCommand) Help() string {
	return "Show the list of available processor kinds"
}

func (cmd *kindsCommand) Register(*flag.FlagSet) {}

func (cmd *kindsCommand) Run(config *config) error {
	for _, kind := range registry().Kinds() {
		fmt.Fprintln(config.stdout, kind)
	}
	return nil
}
