// Package detect implements the element detector: a pure function over a
// rendered model.Grid that surfaces the interactive affordances a TUI is
// showing (buttons, inputs, toggles) so a caller can target them without
// already knowing the target program's layout.
package detect

import (
	"regexp"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/pilotty/pilotty/internal/model"
)

var (
	checkboxPattern   = regexp.MustCompile(`\[([ xX*•])\]`)
	checkboxGlyphs    = map[rune]bool{'☑': true, '✓': true, '✔': true, '☒': true, '☐': true, '□': true}
	checkedGlyphs     = map[rune]bool{'☑': true, '✓': true, '✔': true, '☒': true}
	bracketPattern    = regexp.MustCompile(`\[([^\[\]]{1,40})\]`)
	underscorePattern = regexp.MustCompile(`_{3,}`)
	urlPattern        = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
	statusTagPattern  = regexp.MustCompile(`^(?i)(INFO|WARN|WARNING|ERROR|DEBUG|TRACE|FATAL)$`)
	enumeratorPattern = regexp.MustCompile(`^(\d{1,3}[.)]|\d{1,3}|[a-z]\))$`)
	progressBarChars  = "█▓▒░=#-"
)

// Detect scans a grid for interactive elements in priority order: the
// cursor cell first (it is always the most relevant target), then
// checkbox patterns, inverse-video runs, bracketed labels, and finally
// underscore-run inputs. Each stage scans the row on its own: cells
// matched by an earlier stage are not excluded from later ones, so one
// span can be reported more than once (e.g. "[x]" as both a toggle and a
// bracket button). Bracket labels and inverse-video runs that look like
// URLs, progress bars, log-level status tags, list enumerators or
// box-drawing art are discarded.
func Detect(g *model.Grid) []model.Element {
	var elements []model.Element

	if e, ok := detectCursor(g); ok {
		elements = append(elements, e)
	}

	for row := range g.Cells {
		text := rowText(g.Cells[row])
		elements = append(elements, detectCheckboxes(row, text)...)
		elements = append(elements, detectInverseRuns(row, g.Cells[row])...)
		elements = append(elements, detectBrackets(row, text)...)
		elements = append(elements, detectUnderscoreInputs(row, text)...)
	}

	return elements
}

func detectCursor(g *model.Grid) (model.Element, bool) {
	if !g.Cursor.Visible {
		return model.Element{}, false
	}
	row, col := g.Cursor.Row, g.Cursor.Col
	if row < 0 || row >= len(g.Cells) || col < 0 || col >= len(g.Cells[row]) {
		return model.Element{}, false
	}
	focused := true
	return model.Element{
		Kind:       model.ElementInput,
		Row:        row,
		Col:        col,
		Width:      1,
		Text:       string(g.Cells[row][col].Ch),
		Confidence: 1.0,
		Focused:    &focused,
	}, true
}

func detectCheckboxes(row int, text string) []model.Element {
	var out []model.Element
	for _, loc := range checkboxPattern.FindAllStringSubmatchIndex(text, -1) {
		full := text[loc[0]:loc[1]]
		mark := text[loc[2]:loc[3]]
		checked := mark != " "
		out = append(out, model.Element{
			Kind:       model.ElementToggle,
			Row:        row,
			Col:        byteIndexToCol(text, loc[0]),
			Width:      visualWidth(full),
			Text:       full,
			Confidence: 1.0,
			Checked:    &checked,
		})
	}
	out = append(out, detectCheckboxGlyphs(row, text)...)
	return out
}

// detectCheckboxGlyphs matches the standalone checkbox glyphs (☑ ✓ ✔ ☒
// checked; ☐ □ unchecked) that TUIs draw without surrounding brackets.
func detectCheckboxGlyphs(row int, text string) []model.Element {
	var out []model.Element
	for i, r := range text {
		if !checkboxGlyphs[r] {
			continue
		}
		checked := checkedGlyphs[r]
		out = append(out, model.Element{
			Kind:       model.ElementToggle,
			Row:        row,
			Col:        byteIndexToCol(text, i),
			Width:      visualWidth(string(r)),
			Text:       string(r),
			Confidence: 1.0,
			Checked:    &checked,
		})
	}
	return out
}

func detectInverseRuns(row int, cells []model.Cell) []model.Element {
	var out []model.Element
	start := -1
	flushRun := func(end int) {
		if start < 0 {
			return
		}
		text := cellsText(cells[start:end])
		if !isNoise(text) && strings.TrimSpace(text) != "" {
			focused := true
			out = append(out, model.Element{
				Kind:       model.ElementButton,
				Row:        row,
				Col:        start,
				Width:      end - start,
				Text:       text,
				Confidence: 0.75,
				Focused:    &focused,
			})
		}
		start = -1
	}
	for i, c := range cells {
		if c.Attrs.Has(model.AttrReverse) {
			if start < 0 {
				start = i
			}
		} else {
			flushRun(i)
		}
	}
	flushRun(len(cells))
	return out
}

func detectBrackets(row int, text string) []model.Element {
	var out []model.Element
	for _, loc := range bracketPattern.FindAllStringSubmatchIndex(text, -1) {
		full := text[loc[0]:loc[1]]
		label := text[loc[2]:loc[3]]
		if isNoise(label) {
			continue
		}
		out = append(out, model.Element{
			Kind:       model.ElementButton,
			Row:        row,
			Col:        byteIndexToCol(text, loc[0]),
			Width:      visualWidth(full),
			Text:       full,
			Confidence: 0.6,
		})
	}
	return out
}

func detectUnderscoreInputs(row int, text string) []model.Element {
	var out []model.Element
	for _, loc := range underscorePattern.FindAllStringIndex(text, -1) {
		full := text[loc[0]:loc[1]]
		out = append(out, model.Element{
			Kind:       model.ElementInput,
			Row:        row,
			Col:        byteIndexToCol(text, loc[0]),
			Width:      visualWidth(full),
			Text:       full,
			Confidence: 0.5,
		})
	}
	return out
}

// isNoise filters matches that are structurally interesting but not
// actually interactive: URLs, progress-bar fill, log-level tags, list
// enumerators and box-drawing art.
func isNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if urlPattern.MatchString(trimmed) {
		return true
	}
	if statusTagPattern.MatchString(trimmed) {
		return true
	}
	if enumeratorPattern.MatchString(trimmed) {
		return true
	}
	if isAllProgressBarChars(trimmed) {
		return true
	}
	if isAllBoxDrawing(trimmed) {
		return true
	}
	return false
}

func isAllProgressBarChars(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(progressBarChars, r) && r != ' ' {
			return false
		}
	}
	return true
}

func isAllBoxDrawing(s string) bool {
	for _, r := range s {
		if r < 0x2500 || r > 0x257F {
			return false
		}
	}
	return true
}

func rowText(cells []model.Cell) string {
	var b strings.Builder
	for _, c := range cells {
		if c.Width == 0 {
			continue
		}
		ch := c.Ch
		if ch == 0 {
			ch = ' '
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func cellsText(cells []model.Cell) string {
	return rowText(cells)
}

// byteIndexToCol converts a byte offset from a regexp match (operating on
// the UTF-8-encoded row text) back to a terminal column, since wide and
// multi-byte runes make byte offset and column number diverge.
func byteIndexToCol(text string, byteIdx int) int {
	col := 0
	for i, r := range text {
		if i >= byteIdx {
			break
		}
		col += runeCols(r)
	}
	return col
}

func runeCols(r rune) int {
	w := uniseg.StringWidth(string(r))
	if w <= 0 {
		return 1
	}
	return w
}

// visualWidth returns the number of terminal columns s occupies, using
// grapheme-cluster-aware measurement so combining marks and wide CJK
// glyphs in detected labels report the width a renderer would actually
// draw rather than a byte or rune count.
func visualWidth(s string) int {
	return uniseg.StringWidth(s)
}
