package main

import (
	"fmt"
	"io"
	"os"

	"filewatch/internal/version"
)

const (
	commandWatch   = "watch"
	commandServe   = "serve"
	commandVersion = "version"
	commandHelp    = "help"
)

type command interface {
	Run(args []string) int
}

type commandDeps struct {
	Stdout   io.Writer
	Stderr   io.Writer
	RunWatch func(args []string, deps commandDeps) int
	RunServe func(args []string, deps commandDeps) int
}

func defaultCommandDeps() commandDeps {
	return commandDeps{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		RunWatch: runWatch,
		RunServe: runServe,
	}
}

type watchCommand struct {
	deps commandDeps
}

func (c watchCommand) Run(args []string) int {
	return c.deps.RunWatch(args, c.deps)
}

type serveCommand struct {
	deps commandDeps
}

func (c serveCommand) Run(args []string) int {
	return c.deps.RunServe(args, c.deps)
}

type versionCommand struct {
	deps commandDeps
}

func (c versionCommand) Run([]string) int {
	fmt.Fprintln(c.deps.Stdout, version.Describe("filewatch"))
	return 0
}

type usageCommand struct {
	deps   commandDeps
	out    io.Writer
	status int
}

func (c usageCommand) Run([]string) int {
	printUsage(c.out)
	return c.status
}

type unknownCommand struct {
	deps commandDeps
	name string
}

func (c unknownCommand) Run([]string) int {
	fmt.Fprintf(c.deps.Stderr, "filewatch: unknown command %q\n\n", c.name)
	printUsage(c.deps.Stderr)
	return 2
}

func resolveCommand(args []string, deps commandDeps) (command, []string) {
	if len(args) == 0 {
		return usageCommand{deps: deps, out: deps.Stderr, status: 2}, nil
	}
	switch args[0] {
	case commandWatch:
		return watchCommand{deps: deps}, args[1:]
	case commandServe:
		return serveCommand{deps: deps}, args[1:]
	case commandVersion, "--version", "-v":
		return versionCommand{deps: deps}, args[1:]
	case commandHelp, "--help", "-h":
		return usageCommand{deps: deps, out: deps.Stdout, status: 0}, args[1:]
	default:
		return unknownCommand{deps: deps, name: args[0]}, args[1:]
	}
}

func run(args []string, deps commandDeps) int {
	cmd, rest := resolveCommand(args, deps)
	return cmd.Run(rest)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: filewatch <command> [options] [folder]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  watch     Print each change below a folder")
	fmt.Fprintln(out, "  serve     Stream changes over HTTP and websockets")
	fmt.Fprintln(out, "  version   Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Run 'filewatch <command> --help' for command options.")
}
