package stacktrace

// The program runs from the output directory, so stack traces printed by node
// mention output files. The translator maps them back to the original source
// files and hides the frames of node's module loader that end every trace.
// A line and column after a path are mapped too, first back through the
// patches made by the linker and then through the source map that came out of
// type stripping.

import (
	"bytes"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	gosourcemap "github.com/go-sourcemap/sourcemap"

	"github.com/tbjgolden/xnr-sub000/internal/graph"
	"github.com/tbjgolden/xnr-sub000/internal/helpers"
	"github.com/tbjgolden/xnr-sub000/internal/sourcemap"
)

type target struct {
	sourcePath string
	shifts     sourcemap.Shifts

	// Nil if the file has no usable source map
	consumer *gosourcemap.Consumer
}

type Translator struct {
	pattern *regexp.Regexp
	targets map[string]*target
}

func NewTranslator(files []graph.OutputFile) *Translator {
	t := &Translator{targets: make(map[string]*target, len(files)*2)}
	for _, file := range files {
		it := &target{sourcePath: file.SourcePath, shifts: file.Shifts}
		if len(file.SourceMap) > 0 {
			if consumer, err := gosourcemap.Parse("", file.SourceMap); err == nil {
				it.consumer = consumer
			}
		}
		t.targets[helpers.FileURLFromFilePath(file.AbsPath).String()] = it
		t.targets[file.AbsPath] = it
	}
	if len(t.targets) == 0 {
		return t
	}

	// Alternatives are tried in order, so longer paths must come first or
	// "/out/a.mjs" would win over "/out/a.mjs/b.mjs"
	paths := make([]string, 0, len(t.targets))
	for path := range t.targets {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i int, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})
	for i, path := range paths {
		paths[i] = regexp.QuoteMeta(path)
	}
	t.pattern = regexp.MustCompile("(" + strings.Join(paths, "|") + `)(?::(\d+)(?::(\d+))?)?`)
	return t
}

func (t *Translator) TranslateLine(line string) string {
	if t.pattern == nil {
		return line
	}

	sb := strings.Builder{}
	end := 0
	for _, match := range t.pattern.FindAllStringSubmatchIndex(line, -1) {
		sb.WriteString(line[end:match[0]])
		end = match[1]

		it := t.targets[line[match[2]:match[3]]]
		sb.WriteString(it.sourcePath)
		if match[4] == -1 {
			continue
		}

		// Node prints 1-based lines and columns
		lineNumber, err := strconv.Atoi(line[match[4]:match[5]])
		if err != nil {
			sb.WriteString(line[match[3]:match[1]])
			continue
		}
		column, hasColumn := 1, match[6] != -1
		if hasColumn {
			if column, err = strconv.Atoi(line[match[6]:match[7]]); err != nil {
				sb.WriteString(line[match[3]:match[1]])
				continue
			}
		}

		lineNumber, column = it.originalPosition(lineNumber, column, hasColumn)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(lineNumber))
		if hasColumn {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(column))
		}
	}
	sb.WriteString(line[end:])
	return sb.String()
}

func (it *target) originalPosition(lineNumber int, column int, hasColumn bool) (int, int) {
	if lineNumber < 1 || column < 1 {
		return lineNumber, column
	}
	stripped := it.shifts.Original(sourcemap.LineColumnOffset{Lines: lineNumber - 1, Columns: column - 1})
	if it.consumer == nil {
		return stripped.Lines + 1, stripped.Columns + 1
	}

	// Without a column, use the last mapping on the line
	lookupColumn := stripped.Columns
	if !hasColumn {
		lookupColumn = math.MaxInt32
	}
	_, _, originalLine, originalColumn, ok := it.consumer.Source(stripped.Lines+1, lookupColumn)
	if !ok {
		return stripped.Lines + 1, stripped.Columns + 1
	}
	return originalLine, originalColumn + 1
}

// Translates a complete piece of output such as a captured stack trace
func (t *Translator) Translate(text string) string {
	sb := strings.Builder{}
	w := t.NewWriter(&sb)
	w.Write([]byte(text))
	w.Close()
	return sb.String()
}

func isFrame(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "at ")
}

func isLoaderFrame(line string) bool {
	return isFrame(line) && (strings.Contains(line, "node:internal/") || strings.Contains(line, "(internal/"))
}

// Translates output line by line as it arrives. Loader frames are held back
// until the next line shows whether they are the tail of a trace (dropped) or
// sit between frames of the program (kept).
type Writer struct {
	mutex   sync.Mutex
	t       *Translator
	w       io.Writer
	partial []byte
	held    []string
}

func (t *Translator) NewWriter(w io.Writer) *Writer {
	return &Writer{t: t, w: w}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.partial = append(w.partial, p...)
	for {
		newline := bytes.IndexByte(w.partial, '\n')
		if newline == -1 {
			break
		}
		line := string(w.partial[:newline+1])
		w.partial = w.partial[newline+1:]
		if err := w.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (w *Writer) writeLine(line string) error {
	if isLoaderFrame(line) {
		w.held = append(w.held, line)
		return nil
	}
	if isFrame(line) {
		for _, held := range w.held {
			if _, err := io.WriteString(w.w, w.t.TranslateLine(held)); err != nil {
				return err
			}
		}
	}
	w.held = w.held[:0]
	_, err := io.WriteString(w.w, w.t.TranslateLine(line))
	return err
}

// Writes any incomplete last line. Loader frames at the very end are dropped.
func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var err error
	if len(w.partial) > 0 {
		line := string(w.partial)
		w.partial = nil
		err = w.writeLine(line)
	}
	w.held = nil
	return err
}
