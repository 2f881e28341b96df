package api

import (
	"fmt"

	"github.com/tbjgolden/xnr-sub000/internal/bundler"
	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/helpers"
	"github.com/tbjgolden/xnr-sub000/internal/linker"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/resolver"
	"github.com/tbjgolden/xnr-sub000/internal/transform"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

func validateColor(value StderrColor) logger.StderrColor {
	switch value {
	case ColorIfTerminal:
		return logger.ColorIfTerminal
	case ColorNever:
		return logger.ColorNever
	case ColorAlways:
		return logger.ColorAlways
	default:
		panic("Invalid color")
	}
}

func validateLogLevel(value LogLevel) logger.LogLevel {
	switch value {
	case LogLevelSilent:
		return logger.LevelSilent
	case LogLevelInfo:
		return logger.LevelInfo
	case LogLevelWarning:
		return logger.LevelWarning
	case LogLevelError:
		return logger.LevelError
	default:
		panic("Invalid log level")
	}
}

func newLog(color StderrColor, level LogLevel) logger.Log {
	if level == LogLevelSilent {
		return logger.NewDeferLog()
	}
	return logger.NewStderrLog(logger.StderrOptions{
		IncludeSource: true,
		Color:         validateColor(color),
		LogLevel:      validateLogLevel(level),
	})
}

func validateWorkingDir(fs fs.FS, absWorkingDir string) (string, error) {
	if absWorkingDir == "" {
		return fs.Cwd(), nil
	}
	if !fs.IsAbs(absWorkingDir) {
		return "", xnr_errors.Errorf("The working directory %q is not an absolute path", absWorkingDir)
	}
	return fs.Join(absWorkingDir), nil
}

func validatePath(fs fs.FS, absWorkingDir string, path string) string {
	if path == "" {
		return ""
	}
	if fs.IsAbs(path) {
		return fs.Join(path)
	}
	return fs.Join(absWorkingDir, path)
}

func validateBuildOptions(fs fs.FS, options BuildOptions) (config.Options, error) {
	absWorkingDir, err := validateWorkingDir(fs, options.AbsWorkingDir)
	if err != nil {
		return config.Options{}, err
	}
	if options.EntryPoint == "" {
		return config.Options{}, xnr_errors.Errorf("Missing entry point")
	}
	if options.WriteConcurrency < 0 {
		return config.Options{}, xnr_errors.Errorf("Invalid write concurrency: %d", options.WriteConcurrency)
	}
	result := config.Options{
		AbsEntryPath:     validatePath(fs, absWorkingDir, options.EntryPoint),
		AbsOutputDir:     validatePath(fs, absWorkingDir, options.Outdir),
		WriteConcurrency: options.WriteConcurrency,
	}
	if result.AbsOutputDir == "" {
		return config.Options{}, xnr_errors.Errorf("Missing output directory")
	}
	return result, nil
}

func messagesOfKind(kind logger.MsgKind, msgs []logger.Msg) []Message {
	var filtered []Message
	for _, msg := range msgs {
		if msg.Kind == kind {
			var location *Location
			if loc := msg.Location; loc != nil {
				location = &Location{
					File:     loc.File,
					Line:     loc.Line,
					Column:   loc.Column,
					Length:   loc.Length,
					LineText: loc.LineText,
				}
			}
			filtered = append(filtered, Message{
				Text:     msg.Text,
				Location: location,
			})
		}
	}
	return filtered
}

// Panics anywhere below the API are turned into an error instead of crashing
// the host process
func catchPanic(err *error) {
	if r := recover(); r != nil {
		*err = &xnr_errors.InternalError{Value: r, Stack: helpers.PrettyPrintedStack()}
	}
}

// Runs the scan and link phases and writes the output. This is shared by
// "Build" and "Run".
func build(log logger.Log, fsys fs.FS, stripper transform.Stripper, options config.Options) (linker.Result, error) {
	res := resolver.NewResolver(fsys, log)

	g, err := bundler.ScanGraph(fsys, res, stripper, options.AbsEntryPath)
	if err != nil {
		return linker.Result{}, err
	}

	result, err := linker.Link(log, fsys, res, &g, options)
	if err != nil {
		return linker.Result{}, err
	}

	if err := linker.WriteOutputFiles(fsys, result.OutputDir, result.Files, options.WriteConcurrency); err != nil {
		return linker.Result{}, xnr_errors.Errorf("Failed to write to %q: %s", bundler.PrettyPath(fsys, result.OutputDir), err.Error())
	}

	noun := "files"
	if len(result.Files) == 1 {
		noun = "file"
	}
	log.AddInfo(fmt.Sprintf("%d %s written to %s", len(result.Files), noun, bundler.PrettyPath(fsys, result.OutputDir)))
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// Build API

func buildImpl(options BuildOptions) (BuildResult, error) {
	log := newLog(options.Color, options.LogLevel)
	return buildWithFS(log, fs.RealFS(), transform.Default, options)
}

func buildWithFS(log logger.Log, fsys fs.FS, stripper transform.Stripper, options BuildOptions) (result BuildResult, err error) {
	func() {
		defer catchPanic(&err)

		var buildOptions config.Options
		if buildOptions, err = validateBuildOptions(fsys, options); err != nil {
			return
		}

		var linked linker.Result
		if linked, err = build(log, fsys, stripper, buildOptions); err != nil {
			return
		}

		result.CommonRoot = linked.CommonRoot
		result.Outdir = linked.OutputDir
		result.EntryOutputPath = linked.EntryOutputPath
		for _, file := range linked.Files {
			result.OutputFiles = append(result.OutputFiles, OutputFile{
				Path:       file.AbsPath,
				SourcePath: file.SourcePath,
				Contents:   file.Contents,
			})
		}
	}()

	if err != nil {
		log.AddMsg(xnr_errors.ToMsg(err))
	}
	msgs := log.Done()
	result.Errors = messagesOfKind(logger.Error, msgs)
	result.Warnings = messagesOfKind(logger.Warning, msgs)
	return result, err
}

////////////////////////////////////////////////////////////////////////////////
// Transform API

func transformImpl(code string, options TransformOptions) (result string, err error) {
	defer catchPanic(&err)
	return transform.StripTypes(code, options.Sourcefile)
}
