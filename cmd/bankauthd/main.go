// Command bankauthd manages bank provider credentials from the command line:
// resolving tokens, inspecting and disconnecting tenants, and running the
// prune and warm-up maintenance jobs.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	os.Exit(run(os.Args[1:], nil, os.Stdout, os.Stderr, runtimeOptions{}))
}

func run(args []string, environ map[string]string, stdout io.Writer, stderr io.Writer, opts runtimeOptions) int {
	cfg, err := loadEnv(environ)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	var cmd cli
	exitCode := -1
	parser, err := kong.New(&cmd,
		kong.Name("bankauthd"),
		kong.Description("Bank credential lifecycle manager."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	logger := newLogger(stderr, cfg.LogLevel)
	if syncer, ok := logger.(interface{ Sync() error }); ok {
		defer func() { _ = syncer.Sync() }()
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     stdout,
		opts:    opts,
		timeout: cmd.Timeout,
	}
	if err := kctx.Run(a); err != nil {
		a.logger.Error("command failed", "command", kctx.Command(), "error", err)
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
