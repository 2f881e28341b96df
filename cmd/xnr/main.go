package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tbjgolden/xnr-sub000/internal/cli_helpers"
	"github.com/tbjgolden/xnr-sub000/internal/exitcode"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
	"github.com/tbjgolden/xnr-sub000/pkg/api"
)

const xnrVersion = "1.0.0"

const runHelpText = `
Usage:
  xnr [run] [options] <entry point> [program arguments]

Options:
  --node-arg=...   Pass an argument to node (may be repeated)
  --outdir=...     Where to put the generated files while the program runs
                   (default: a new directory inside the common root)
  --color=...      Force use of color terminal escapes (true or false)
  --log-level=...  Disable logging (info, warning, error, silent)

Everything after the entry point is passed to the program. The node binary
is taken from the XNR_NODE environment variable when it is set.

Examples:
  xnr src/main.ts --port 8080
  xnr run --node-arg=--inspect src/main.ts
`

var commandNames = map[string]bool{
	"run":       true,
	"build":     true,
	"transform": true,
	"help":      true,
	"h":         true,
}

func main() {
	// "xnr file.ts" is short for "xnr run file.ts"
	args := os.Args
	if len(args) > 1 && !commandNames[args[1]] && !strings.HasPrefix(args[1], "-") {
		args = append([]string{args[0], "run"}, args[1:]...)
	}
	exitcode.Exit(rootCommand(os.Stdin, os.Stdout).Run(context.Background(), args))
}

func rootCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "xnr",
		Usage:   "run or package TypeScript and JavaScript with node",
		Version: xnrVersion,

		// Errors are printed by the log as they happen. The exit code is
		// decided in "main".
		ExitErrHandler: func(ctx context.Context, cmd *cli.Command, err error) {},

		Commands: []*cli.Command{
			runCommand(stdout),
			buildCommand(),
			transformCommand(stdin, stdout),
		},
	}
}

func runCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run an entry point with node",
		ArgsUsage: "[options] <entry point> [program arguments]",

		// Arguments after the entry point belong to the program, including
		// "--help", which is handled by "parseRunArgs" instead
		SkipFlagParsing: true,
		HideHelp:        true,

		Action: func(ctx context.Context, cmd *cli.Command) error {
			options, err := parseRunArgs(cmd.Args().Slice())
			if err == errHelp {
				fmt.Fprint(stdout, runHelpText)
				return nil
			}
			if err != nil {
				return fail(err)
			}
			code, err := api.Run(options)
			if err != nil {
				return exitcode.Set(err, code)
			}
			if code != 0 {
				return exitcode.Set(fmt.Errorf("exit status %d", code), code)
			}
			return nil
		},
	}
}

var errHelp = errors.New("help requested")

// For errors that happen before a log exists
func fail(err error) error {
	logger.PrintErrorToStderr(os.Args, err.Error())
	return exitcode.Set(err, 1)
}

// The run command can't use the flag parser since everything after the entry
// point is passed through untouched
func parseRunArgs(args []string) (api.RunOptions, error) {
	options := api.RunOptions{LogLevel: api.LogLevelWarning}

loop:
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "-h" || arg == "--help":
			return api.RunOptions{}, errHelp

		case arg == "--":
			args = args[1:]
			break loop

		case strings.HasPrefix(arg, "--node-arg="):
			options.NodeArgs = append(options.NodeArgs, arg[len("--node-arg="):])

		case strings.HasPrefix(arg, "--outdir="):
			options.Outdir = arg[len("--outdir="):]

		case strings.HasPrefix(arg, "--color="):
			color, err := cli_helpers.ParseColor(arg[len("--color="):])
			if err != nil {
				return api.RunOptions{}, err
			}
			options.Color = color

		case strings.HasPrefix(arg, "--log-level="):
			level, err := cli_helpers.ParseLogLevel(arg[len("--log-level="):])
			if err != nil {
				return api.RunOptions{}, err
			}
			options.LogLevel = level

		case strings.HasPrefix(arg, "-"):
			return api.RunOptions{}, xnr_errors.Errorf("Invalid run option: %q", arg)

		default:
			break loop
		}
		args = args[1:]
	}

	if len(args) == 0 {
		return api.RunOptions{}, xnr_errors.Errorf("Missing entry point")
	}
	options.EntryPoint = args[0]
	options.Args = args[1:]
	return options, nil
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "write the runnable output of an entry point to a directory",
		ArgsUsage: "<entry point> <output directory>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "color", Usage: "force use of color terminal escapes (true or false)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "info, warning, error or silent"},
			&cli.IntFlag{Name: "write-concurrency", Usage: "maximum number of files written at once (0 means no limit)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			color, noteErr := cli_helpers.ParseColor(cmd.String("color"))
			if noteErr != nil {
				return fail(noteErr)
			}
			level, noteErr := cli_helpers.ParseLogLevel(cmd.String("log-level"))
			if noteErr != nil {
				return fail(noteErr)
			}
			if cmd.Args().Len() != 2 {
				return fail(xnr_errors.Errorf("Expected an entry point and an output directory"))
			}
			_, err := api.Build(api.BuildOptions{
				Color:            color,
				LogLevel:         level,
				EntryPoint:       cmd.Args().Get(0),
				Outdir:           cmd.Args().Get(1),
				WriteConcurrency: int(cmd.Int("write-concurrency")),
			})
			return exitcode.Set(err, 1)
		},
	}
}

func transformCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "transform",
		Usage:     "strip the types from one file, or from stdin, and print the result",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sourcefile", Usage: "the file name to use for stdin, which picks the loader"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sourcefile := cmd.String("sourcefile")
			var code []byte
			var err error
			if path := cmd.Args().First(); path != "" {
				if sourcefile == "" {
					sourcefile = path
				}
				code, err = os.ReadFile(path)
			} else {
				code, err = io.ReadAll(stdin)
			}
			if err != nil {
				return fail(err)
			}

			js, err := api.Transform(string(code), api.TransformOptions{Sourcefile: sourcefile})
			if err != nil {
				logger.PrintMessageToStderr(os.Args, xnr_errors.ToMsg(err))
				return exitcode.Set(err, 1)
			}
			_, err = io.WriteString(stdout, js)
			return err
		},
	}
}
