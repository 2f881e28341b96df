package api

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/exitcode"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/linker"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/stacktrace"
	"github.com/tbjgolden/xnr-sub000/internal/transform"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

func validateNodePath(nodePath string) string {
	if nodePath != "" {
		return nodePath
	}
	if fromEnv := os.Getenv("XNR_NODE"); fromEnv != "" {
		return fromEnv
	}
	return "node"
}

func validateRunOptions(fs fs.FS, options RunOptions) (config.Options, error) {
	absWorkingDir, err := validateWorkingDir(fs, options.AbsWorkingDir)
	if err != nil {
		return config.Options{}, err
	}
	if options.EntryPoint == "" {
		return config.Options{}, xnr_errors.Errorf("Missing entry point")
	}
	result := config.Options{
		AbsEntryPath: validatePath(fs, absWorkingDir, options.EntryPoint),
		AbsOutputDir: validatePath(fs, absWorkingDir, options.Outdir),
	}
	if result.AbsOutputDir == "" {
		result.OutputDirInsideRoot = ".xnr-" + uuid.NewString()[:8]
	}
	return result, nil
}

func runImpl(options RunOptions) (int, error) {
	log := newLog(options.Color, options.LogLevel)
	return runWithFS(log, fs.RealFS(), transform.Default, options)
}

func runWithFS(log logger.Log, fsys fs.FS, stripper transform.Stripper, options RunOptions) (exitCode int, err error) {
	var linked linker.Result
	existingFiles := false

	func() {
		defer catchPanic(&err)

		var runOptions config.Options
		if runOptions, err = validateRunOptions(fsys, options); err != nil {
			return
		}
		if runOptions.AbsOutputDir != "" {
			_, existingFiles = fs.Lookup(fsys, runOptions.AbsOutputDir)
		}
		linked, err = build(log, fsys, stripper, runOptions)
	}()

	if err != nil {
		log.AddMsg(xnr_errors.ToMsg(err))
		log.Done()
		return 1, err
	}
	log.Done()

	// The output only exists for the lifetime of the program
	defer func() {
		if existingFiles {
			for _, file := range linked.Files {
				fsys.RemoveAll(file.AbsPath)
			}
		} else {
			fsys.RemoveAll(linked.OutputDir)
		}
	}()

	if exitCode, err = execute(linked, options); err != nil {
		log.AddMsg(xnr_errors.ToMsg(err))
	}
	return
}

// Runs the entry point with node. Stack traces printed to stderr refer to the
// original source files instead of the output files.
func execute(linked linker.Result, options RunOptions) (int, error) {
	stdin, stdout, stderr := options.Stdin, options.Stdout, options.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	translated := stacktrace.NewTranslator(linked.Files).NewWriter(stderr)
	defer translated.Close()

	nodePath := validateNodePath(options.NodePath)
	args := make([]string, 0, len(options.NodeArgs)+1+len(options.Args))
	args = append(args, options.NodeArgs...)
	args = append(args, linked.EntryOutputPath)
	args = append(args, options.Args...)

	cmd := exec.Command(nodePath, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = translated

	// Signals sent to this process are meant for the program
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err := cmd.Start(); err != nil {
		return 1, xnr_errors.Errorf("Failed to start %q: %s", nodePath, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return cmd.Wait()
	})
	g.Go(func() error {
		for {
			select {
			case sig := <-signals:
				cmd.Process.Signal(sig)
			case <-ctx.Done():
				return nil
			}
		}
	})
	return exitCodeOf(nodePath, g.Wait())
}

func exitCodeOf(nodePath string, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return exitcode.ForSignal(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return 1, xnr_errors.Errorf("Failed to run %q: %s", nodePath, err.Error())
}
