package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patchpilot/pkg/models"
)

func plainPatch(path, text string) models.FilePatch {
	return models.FilePatch{
		Path:     path,
		EditType: models.EditModified,
		Hunks: []models.Hunk{{
			OldStart: 1, OldCount: 1, NewStart: 1, NewCount: 1,
			Lines: []models.Line{{Kind: models.LineAdded, NewNumber: 1, Text: text}},
		}},
	}
}

func TestAssembleJoinsPatchesWithBlankLine(t *testing.T) {
	pctx := Context{Counter: lenCounter{}, HardLimit: 10_000}
	res := Result{Compression: models.CompressionResult{
		Patches: []models.FilePatch{plainPatch("a.go", "x := 1"), plainPatch("b.go", "y := 2")},
	}}

	out := Assemble(pctx, res)

	want := "## File: 'a.go'\n\n@@ -1,1 +1,1 @@\n+x := 1" +
		"\n\n" +
		"## File: 'b.go'\n\n@@ -1,1 +1,1 @@\n+y := 2"
	assert.Equal(t, want, out)
	assert.NotContains(t, out, "Additional")
}

func droppedResult() Result {
	return Result{Compression: models.CompressionResult{
		Patches: []models.FilePatch{plainPatch("a.go", "x := 1")},
		Dropped: []models.FilePatch{
			{Path: "new.go", EditType: models.EditAdded},
			{Path: "gone.go", EditType: models.EditDeleted},
			{Path: "big.go", EditType: models.EditModified},
		},
		WasCompressed: true,
		OmittedFiles:  3,
	}}
}

func TestAssembleAppendsDroppedFileLists(t *testing.T) {
	pctx := Context{Counter: lenCounter{}, HardLimit: 10_000}

	out := Assemble(pctx, droppedResult())

	assert.Contains(t, out, "### Additional added files (not included in diff):\n- new.go")
	assert.Contains(t, out, "### Additional modified files (not included in diff):\n- big.go")
	assert.Contains(t, out, "### Additional deleted files (not included in diff):\n- gone.go")

	added := strings.Index(out, "Additional added")
	modified := strings.Index(out, "Additional modified")
	deleted := strings.Index(out, "Additional deleted")
	assert.Less(t, added, modified)
	assert.Less(t, modified, deleted)
}

func TestAssembleNoRoomBelowHardCeiling(t *testing.T) {
	pctx := Context{Counter: lenCounter{}, HardLimit: 10_000}
	base := Assemble(pctx, Result{Compression: models.CompressionResult{
		Patches: []models.FilePatch{plainPatch("a.go", "x := 1")},
	}})

	pctx.HardLimit = len(base) + deltaTokens
	out := Assemble(pctx, droppedResult())

	assert.Equal(t, base, out)
}

func TestAssembleClipsListToRemainingBudget(t *testing.T) {
	pctx := Context{Counter: lenCounter{}, HardLimit: 10_000}
	base := Assemble(pctx, Result{Compression: models.CompressionResult{
		Patches: []models.FilePatch{plainPatch("a.go", "x := 1")},
	}})

	pctx.HardLimit = len(base) + 30
	out := Assemble(pctx, droppedResult())

	assert.True(t, strings.HasPrefix(out, base))
	assert.Contains(t, out, "...(truncated)")
	assert.NotContains(t, out, "deleted files")
}
