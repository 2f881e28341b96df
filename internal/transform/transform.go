package transform

// Type annotations and JSX are removed by esbuild's public transform API. The
// module syntax is left exactly as written except in files that must be
// CommonJS by extension, where any import/export statements are converted so
// that the emitted ".cjs" file can be loaded by node.

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

type Result struct {
	Code string

	// Maps positions in "Code" back to the input. This is nil when the code
	// was not rewritten by esbuild.
	SourceMap []byte
}

type Stripper interface {
	StripTypes(code string, path string) (Result, error)
}

// Adapts a plain function to the "Stripper" interface. There is no source map.
type StripperFunc func(code string, path string) (string, error)

func (f StripperFunc) StripTypes(code string, path string) (Result, error) {
	js, err := f(code, path)
	return Result{Code: js}, err
}

type withSourceMap struct{}

func (withSourceMap) StripTypes(code string, path string) (Result, error) {
	return strip(code, path, api.SourceMapExternal)
}

var Default Stripper = withSourceMap{}

func loaderForPath(path string) (api.Loader, bool) {
	switch config.LoaderFromExt(filepath.Ext(path)) {
	case config.LoaderJS, config.LoaderJSX:
		return api.LoaderJSX, true
	case config.LoaderTS:
		return api.LoaderTS, true
	case config.LoaderTSX:
		return api.LoaderTSX, true
	}
	return api.LoaderNone, false
}

func formatForPath(path string) api.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cjs", ".cts":
		return api.FormatCommonJS
	}
	return api.FormatDefault
}

// Returns plain JavaScript for the TypeScript, JSX or JavaScript source in
// "code". An empty path is treated as a ".ts" file.
func StripTypes(code string, path string) (string, error) {
	result, err := strip(code, path, api.SourceMapNone)
	return result.Code, err
}

func strip(code string, path string, sourcemap api.SourceMap) (Result, error) {
	loaderPath := path
	if loaderPath == "" {
		loaderPath = "input.ts"
	}

	loader, ok := loaderForPath(loaderPath)
	if !ok {
		return Result{}, &xnr_errors.TransformError{
			Path: path,
			Text: fmt.Sprintf("No loader is configured for %q files", filepath.Ext(path)),
		}
	}

	result := api.Transform(code, api.TransformOptions{
		Loader:     loader,
		Format:     formatForPath(loaderPath),
		Target:     api.ESNext,
		Sourcefile: path,
		LogLevel:   api.LogLevelSilent,

		Sourcemap:      sourcemap,
		SourcesContent: api.SourcesContentExclude,
	})

	if len(result.Errors) > 0 {
		return Result{}, transformError(path, result.Errors[0])
	}
	return Result{Code: string(result.Code), SourceMap: result.Map}, nil
}

func transformError(path string, msg api.Message) *xnr_errors.TransformError {
	err := &xnr_errors.TransformError{Path: path, Text: msg.Text}
	if loc := msg.Location; loc != nil {
		err.Location = &logger.MsgLocation{
			File:     loc.File,
			Line:     loc.Line,
			Column:   loc.Column,
			Length:   loc.Length,
			LineText: loc.LineText,
		}
	}
	return err
}
