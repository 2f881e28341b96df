package sourcemap

// Output files are made by patching the code that comes out of type
// stripping. Patches keep the line count but move columns around, so a
// position in an output file is first moved back through the patches and then
// looked up in the source map that the type stripper returned.

import "sort"

// Both fields are 0-based. Columns count UTF-16 code units like V8 and
// Mozilla's "source-map" library do.
type LineColumnOffset struct {
	Lines   int
	Columns int
}

func (a LineColumnOffset) ComesBefore(b LineColumnOffset) bool {
	return a.Lines < b.Lines || (a.Lines == b.Lines && a.Columns < b.Columns)
}

func (offset *LineColumnOffset) AdvanceString(text string) {
	columns := offset.Columns
	for i, c := range text {
		switch c {
		case '\r', '\n', '\u2028', '\u2029':
			// Handle Windows-specific "\r\n" newlines
			if c == '\r' && i+1 < len(text) && text[i+1] == '\n' {
				columns++
				continue
			}

			offset.Lines++
			columns = 0

		default:
			if c <= 0xFFFF {
				columns++
			} else {
				columns += 2
			}
		}
	}
	offset.Columns = columns
}

// Marks the end of a patch. From "Generated" up to the next shift, a position
// in the output lies the same distance after "Generated" as the matching
// position in the patched text lies after "Original". Distance on the first
// line is counted in columns. On later lines the column is kept.
type Shift struct {
	Generated LineColumnOffset
	Original  LineColumnOffset
}

// Sorted by "Generated"
type Shifts []Shift

func (shifts Shifts) Original(generated LineColumnOffset) LineColumnOffset {
	i := sort.Search(len(shifts), func(i int) bool {
		return generated.ComesBefore(shifts[i].Generated)
	})
	if i == 0 {
		return generated
	}

	shift := shifts[i-1]
	if generated.Lines == shift.Generated.Lines {
		return LineColumnOffset{
			Lines:   shift.Original.Lines,
			Columns: shift.Original.Columns + generated.Columns - shift.Generated.Columns,
		}
	}
	return LineColumnOffset{
		Lines:   shift.Original.Lines + generated.Lines - shift.Generated.Lines,
		Columns: generated.Columns,
	}
}
