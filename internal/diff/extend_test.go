package diff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/pkg/models"
)

// numberedFile builds "line1\nline2\n..." with n lines.
func numberedFile(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line%d\n", i)
	}
	return sb.String()
}

func mustParse(t *testing.T, raw string) models.FilePatch {
	t.Helper()
	fp, err := Parse(raw, "a.py", "a.py", models.NumberingNew)
	require.NoError(t, err)
	return fp
}

func TestExtendAddsContext(t *testing.T) {
	file := numberedFile(20)
	fp := mustParse(t, "@@ -10,3 +10,4 @@\n line10\n line11\n+inserted\n line12\n")

	out := Extend(fp.Hunks, file, 2, 2)
	require.Len(t, out, 1)

	h := out[0]
	assert.Equal(t, 8, h.OldStart)
	assert.Equal(t, 7, h.OldCount)
	assert.Equal(t, 15, h.OldEnd())
	assert.Equal(t, 8, h.NewStart)
	assert.Equal(t, 8, h.NewCount)

	first := h.Lines[0]
	assert.Equal(t, models.LineContext, first.Kind)
	assert.Equal(t, 8, first.OldNumber)
	assert.Equal(t, 8, first.NewNumber)
	assert.Equal(t, "line8", first.Text)

	last := h.Lines[len(h.Lines)-1]
	assert.Equal(t, models.LineContext, last.Kind)
	assert.Equal(t, 14, last.OldNumber)
	assert.Equal(t, 15, last.NewNumber)
	assert.Equal(t, "line15", last.Text)
}

func TestExtendClampsAtFileStart(t *testing.T) {
	file := numberedFile(10)
	fp := mustParse(t, "@@ -2,2 +2,2 @@\n line2\n-line3\n+LINE3\n")

	out := Extend(fp.Hunks, file, 5, 0)
	require.Len(t, out, 1)

	h := out[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, "line1", h.Lines[0].Text)
}

func TestExtendClampsAtFileEnd(t *testing.T) {
	file := numberedFile(10)
	fp := mustParse(t, "@@ -8,3 +8,3 @@\n line8\n-line9\n+LINE9\n line10\n")

	out := Extend(fp.Hunks, file, 0, 5)
	require.Len(t, out, 1)

	h := out[0]
	// Nothing exists past line 10 to pull in.
	assert.Equal(t, 11, h.NewEnd())
	assert.Equal(t, "line10", h.Lines[len(h.Lines)-1].Text)
}

func TestExtendNoFileTextIsNoop(t *testing.T) {
	fp := mustParse(t, "@@ -5,2 +5,2 @@\n line5\n-line6\n+LINE6\n")

	out := Extend(fp.Hunks, "", 3, 3)
	assert.Equal(t, fp.Hunks, out)
}

func TestExtendZeroExtraIsNoop(t *testing.T) {
	fp := mustParse(t, "@@ -5,2 +5,2 @@\n line5\n-line6\n+LINE6\n")

	out := Extend(fp.Hunks, numberedFile(10), 0, 0)
	assert.Equal(t, fp.Hunks, out)
}

func TestExtendDeletionUntouched(t *testing.T) {
	fp, err := Parse("@@ -1,2 +0,0 @@\n-line1\n-line2\n", "gone.py", "", models.NumberingNew)
	require.NoError(t, err)

	out := Extend(fp.Hunks, numberedFile(10), 2, 2)
	assert.Equal(t, fp.Hunks, out)
}

func TestExtendMergesOverlappingHunks(t *testing.T) {
	file := numberedFile(30)
	fp := mustParse(t, "@@ -5,2 +5,2 @@\n line5\n-line6\n+LINE6\n@@ -10,2 +10,2 @@\n line10\n-line11\n+LINE11\n")

	out := Extend(fp.Hunks, file, 2, 2)
	require.Len(t, out, 1)

	h := out[0]
	assert.Equal(t, 3, h.NewStart)
	assert.Equal(t, 14, h.NewEnd())

	// Gap lines 7..9 appear exactly once, as context.
	seen := map[int]int{}
	for _, ln := range h.Lines {
		if ln.NewNumber != 0 {
			seen[ln.NewNumber]++
		}
	}
	for n := 3; n <= 13; n++ {
		assert.Equal(t, 1, seen[n], "new line %d", n)
	}
}

func TestExtendKeepsDisjointHunksSeparate(t *testing.T) {
	file := numberedFile(40)
	fp := mustParse(t, "@@ -5,2 +5,2 @@\n line5\n-line6\n+LINE6\n@@ -25,2 +25,2 @@\n line25\n-line26\n+LINE26\n")

	out := Extend(fp.Hunks, file, 2, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 3, out[0].NewStart)
	assert.Equal(t, 23, out[1].NewStart)
}

func TestExtendShiftedNumbering(t *testing.T) {
	// Earlier changes put the new side three lines ahead of the old side.
	file := numberedFile(30)
	fp := mustParse(t, "@@ -10,2 +13,2 @@\n line13\n-line14\n+LINE14\n")

	out := Extend(fp.Hunks, file, 2, 1)
	require.Len(t, out, 1)

	h := out[0]
	assert.Equal(t, 8, h.OldStart)
	assert.Equal(t, 11, h.NewStart)

	first := h.Lines[0]
	assert.Equal(t, 8, first.OldNumber)
	assert.Equal(t, 11, first.NewNumber)
	assert.Equal(t, "line11", first.Text)

	last := h.Lines[len(h.Lines)-1]
	assert.Equal(t, 12, last.OldNumber)
	assert.Equal(t, 15, last.NewNumber)
}

func TestExtendDynamicFindsSectionHeader(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = fmt.Sprintf("line%d", i+1)
	}
	lines[4] = "def handler():"
	file := strings.Join(lines, "\n") + "\n"

	raw := "@@ -12,2 +12,2 @@ def handler():\n line12\n-line13\n+LINE13\n"
	fp := mustParse(t, raw)

	out := ExtendDynamic(fp.Hunks, file, 1, 0, 20)
	require.Len(t, out, 1)

	h := out[0]
	assert.Equal(t, 5, h.NewStart)
	assert.Equal(t, "def handler():", h.Lines[0].Text)
}

func TestExtendDynamicFallsBackWithoutMatch(t *testing.T) {
	file := numberedFile(20)
	raw := "@@ -12,2 +12,2 @@ def vanished():\n line12\n-line13\n+LINE13\n"
	fp := mustParse(t, raw)

	out := ExtendDynamic(fp.Hunks, file, 1, 0, 20)
	require.Len(t, out, 1)
	assert.Equal(t, 11, out[0].NewStart)
}
