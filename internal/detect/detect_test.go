package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotty/pilotty/internal/model"
)

func gridFromLines(lines []string) *model.Grid {
	cols := 0
	for _, l := range lines {
		if len(l) > cols {
			cols = len(l)
		}
	}
	g := model.NewGrid(model.Size{Cols: cols, Rows: len(lines)})
	for r, line := range lines {
		for c, ch := range line {
			g.Cells[r][c] = model.Cell{Ch: ch, Width: 1, FG: model.DefaultColor, BG: model.DefaultColor}
		}
	}
	return g
}

func TestDetectCheckboxUnchecked(t *testing.T) {
	g := gridFromLines([]string{"[ ] enable feature"})
	elements := Detect(g)

	var found *model.Element
	for i := range elements {
		if elements[i].Kind == model.ElementToggle {
			found = &elements[i]
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.Checked)
	assert.False(t, *found.Checked)
	assert.Equal(t, "[ ]", found.Text)
}

func TestDetectCheckboxChecked(t *testing.T) {
	g := gridFromLines([]string{"[x] enable feature"})
	elements := Detect(g)

	var found *model.Element
	for i := range elements {
		if elements[i].Kind == model.ElementToggle {
			found = &elements[i]
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.Checked)
	assert.True(t, *found.Checked)
}

func TestDetectCheckboxConfidenceIsFull(t *testing.T) {
	g := gridFromLines([]string{"[x] enable feature"})
	elements := Detect(g)

	var found *model.Element
	for i := range elements {
		if elements[i].Kind == model.ElementToggle {
			found = &elements[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, float32(1.0), found.Confidence)
}

func TestDetectCheckboxGlyphsCheckedAndUnchecked(t *testing.T) {
	g := gridFromLines([]string{"☑ done  ☐ todo  ✓ yes  ✔ yep  ☒ no  □ maybe"})
	elements := Detect(g)

	checkedByText := map[string]bool{}
	for _, e := range elements {
		if e.Kind != model.ElementToggle {
			continue
		}
		require.NotNil(t, e.Checked)
		checkedByText[e.Text] = *e.Checked
		assert.Equal(t, float32(1.0), e.Confidence)
	}

	assert.True(t, checkedByText["☑"])
	assert.True(t, checkedByText["✓"])
	assert.True(t, checkedByText["✔"])
	assert.True(t, checkedByText["☒"])
	assert.False(t, checkedByText["☐"])
	assert.False(t, checkedByText["□"])
}

func TestDetectBracketButton(t *testing.T) {
	g := gridFromLines([]string{"  [Submit]  [Cancel]"})
	elements := Detect(g)

	var texts []string
	for _, e := range elements {
		if e.Kind == model.ElementButton {
			texts = append(texts, e.Text)
		}
	}
	assert.Contains(t, texts, "[Submit]")
	assert.Contains(t, texts, "[Cancel]")
}

func TestDetectFiltersStatusTagsAndURLs(t *testing.T) {
	g := gridFromLines([]string{"[INFO] https://example.com/path [1.]"})
	elements := Detect(g)
	for _, e := range elements {
		assert.NotEqual(t, "[INFO]", e.Text)
	}
}

func TestDetectUnderscoreInput(t *testing.T) {
	g := gridFromLines([]string{"Name: ________"})
	elements := Detect(g)

	var found bool
	for _, e := range elements {
		if e.Kind == model.ElementInput && e.Text == "________" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectInverseVideoRun(t *testing.T) {
	g := gridFromLines([]string{"  OK  Cancel"})
	for c := 2; c < 4; c++ {
		g.Cells[0][c].Attrs |= model.AttrReverse
	}
	elements := Detect(g)

	var found bool
	for _, e := range elements {
		if e.Kind == model.ElementButton && e.Text == "OK" {
			found = true
			require.NotNil(t, e.Focused)
			assert.True(t, *e.Focused)
		}
	}
	assert.True(t, found)
}

func TestDetectCursorElement(t *testing.T) {
	g := gridFromLines([]string{"abc"})
	g.Cursor = model.Cursor{Row: 0, Col: 1, Visible: true}

	elements := Detect(g)
	require.NotEmpty(t, elements)
	assert.Equal(t, model.ElementInput, elements[0].Kind)
	assert.Equal(t, 1, elements[0].Col)
	assert.Equal(t, float32(1.0), elements[0].Confidence)
}

func TestDetectFiltersBareDigitBracketEnumerators(t *testing.T) {
	g := gridFromLines([]string{"[1] [22] [Submit]"})
	elements := Detect(g)
	var texts []string
	for _, e := range elements {
		if e.Kind == model.ElementButton {
			texts = append(texts, e.Text)
		}
	}
	assert.NotContains(t, texts, "[1]")
	assert.NotContains(t, texts, "[22]")
	assert.Contains(t, texts, "[Submit]")
}

func TestDetectFiltersLetterParenEnumeratorInInverseRun(t *testing.T) {
	g := gridFromLines([]string{"a) OK"})
	for c := 0; c < 2; c++ {
		g.Cells[0][c].Attrs |= model.AttrReverse
	}
	elements := Detect(g)
	for _, e := range elements {
		assert.NotEqual(t, "a)", e.Text)
	}
}

func TestDetectNoPanicOnEmptyGrid(t *testing.T) {
	g := model.NewGrid(model.Size{Cols: 0, Rows: 0})
	assert.NotPanics(t, func() {
		Detect(g)
	})
}
