package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/vibrato-audio/vibrato/internal/config"
	"github.com/vibrato-audio/vibrato/internal/logging"
)

// Runner holds the dependencies shared by CLI commands and provides a
// method per command action.
type Runner struct {
	cfg    *config.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *config.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a Runner, applying defaults for unset options.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(os.Stderr, opts.Config.LogLevel)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		cfg:    opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		playCommand, cacheCommand, sessionCommand, lastfmCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.output, format, args...)
}

func (r *Runner) println(format string, args ...any) {
	fmt.Fprintf(r.output, format+"\n", args...)
}
