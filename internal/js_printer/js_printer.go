package js_printer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tbjgolden/xnr-sub000/internal/helpers"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/sourcemap"
)

// A patch replaces a range of the original source text. Inserting is a patch
// with an empty range.
type Patch struct {
	Range logger.Range
	Text  string
}

type printer struct {
	js       []byte
	contents string

	generated sourcemap.LineColumnOffset
	original  sourcemap.LineColumnOffset
	shifts    sourcemap.Shifts
}

func (p *printer) print(text string) {
	p.js = append(p.js, text...)
	p.generated.AdvanceString(text)
}

func (p *printer) printOriginal(text string) {
	p.print(text)
	p.original.AdvanceString(text)
}

func (p *printer) addShift() {
	if len(p.shifts) == 0 && p.generated == p.original {
		return
	}
	if n := len(p.shifts); n > 0 && p.shifts[n-1].Generated == p.generated {
		p.shifts[n-1].Original = p.original
		return
	}
	p.shifts = append(p.shifts, sourcemap.Shift{Generated: p.generated, Original: p.original})
}

// Applies the patches to the source text and returns the result. Patches must
// not overlap, although any number of insertions may share the same position.
// Insertions at the same position are printed in the order they were given.
//
// Line numbers in the output stay the same as in the input. If a replacement
// has fewer newlines than the text it replaces, extra newlines are appended to
// the replacement.
func Print(contents string, patches []Patch) string {
	js, _ := PrintWithShifts(contents, patches)
	return js
}

// Like "Print" but also returns where each patch moved the columns, which
// is needed to find the input position of a position in the output
func PrintWithShifts(contents string, patches []Patch) (string, sourcemap.Shifts) {
	sorted := make([]Patch, len(patches))
	copy(sorted, patches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Range.Loc.Start < sorted[j].Range.Loc.Start
	})

	p := printer{js: make([]byte, 0, len(contents)), contents: contents}
	end := int32(0)

	for _, patch := range sorted {
		start := patch.Range.Loc.Start
		if start < end || patch.Range.End() > int32(len(contents)) {
			panic(fmt.Sprintf("Internal error: invalid patch at %d", start))
		}

		p.printOriginal(contents[end:start])
		p.print(patch.Text)

		// Keep the line count stable
		replaced := contents[start:patch.Range.End()]
		if missing := countNewlines(replaced) - countNewlines(patch.Text); missing > 0 {
			p.print(strings.Repeat("\n", missing))
		}
		p.original.AdvanceString(replaced)
		p.addShift()

		end = patch.Range.End()
	}

	p.printOriginal(contents[end:])
	return string(p.js), p.shifts
}

func countNewlines(text string) int {
	return strings.Count(text, "\n")
}

// Prints a module specifier as a string literal. Single quotes are kept so the
// output looks like the input. Template literals and double quotes both become
// double quotes.
func QuoteSpecifier(text string, originalQuote byte) string {
	if originalQuote == '\'' {
		return helpers.Quote(text, '\'')
	}
	return helpers.Quote(text, '"')
}
