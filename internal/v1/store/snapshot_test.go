package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// editorFixture builds a document with two files in a small tree and one
// suggestion, the shape a live room produces.
func editorFixture(t *testing.T) *crdt.Doc {
	t.Helper()
	doc := crdt.NewDoc()

	nodes := doc.GetMap(types.ContainerTreeNodes)
	roots := doc.GetArray(types.ContainerTreeRoots)

	src := nodes.SetMap("folder-src")
	src.Set("name", "src")
	src.Set("kind", "folder")
	roots.Push("folder-src")

	mainNode := nodes.SetMap("file-main")
	mainNode.Set("name", "main.go")
	mainNode.Set("kind", "file")
	mainNode.Set("parentId", "folder-src")

	readmeNode := nodes.SetMap("file-readme")
	readmeNode.Set("name", "README.md")
	readmeNode.Set("kind", "file")
	roots.Push("file-readme")

	files := doc.GetMap(types.ContainerFiles)
	files.SetText("file-main").Insert(0, "package main\n")
	files.SetText("file-readme").Insert(0, "# demo\n")

	suggestions := doc.GetMap(types.ContainerSuggestions)
	sugg := suggestions.SetMap("sugg-1")
	sugg.Set("fileId", "file-main")
	sugg.Set("authorId", "user-a")
	sugg.Set("text", "rename main")
	votes := sugg.SetMap("votes")
	votes.Set("user-b", int64(1))

	return doc
}

func TestTakeSnapshot(t *testing.T) {
	doc := editorFixture(t)
	snap := TakeSnapshot(doc)

	require.Len(t, snap.Files, 2)
	byID := map[string]FileState{}
	for _, f := range snap.Files {
		byID[f.ID] = f
	}
	assert.Equal(t, "src/main.go", byID["file-main"].Path)
	assert.Equal(t, "package main\n", byID["file-main"].Content)
	assert.Equal(t, "README.md", byID["file-readme"].Path)
	assert.Equal(t, "# demo\n", byID["file-readme"].Content)

	require.Len(t, snap.Suggestions, 1)
	s := snap.Suggestions[0]
	assert.Equal(t, "sugg-1", s.ID)
	assert.Equal(t, "file-main", s.FileID)
	assert.Equal(t, "user-a", s.CreatorID)
	assert.Equal(t, "rename main", s.Text)
	assert.Equal(t, map[string]int64{"user-b": 1}, s.Votes)
}

func TestTakeSnapshotFallbackPath(t *testing.T) {
	doc := crdt.NewDoc()
	files := doc.GetMap(types.ContainerFiles)
	files.SetText("orphan").Insert(0, "x")

	snap := TakeSnapshot(doc)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "files/orphan.txt", snap.Files[0].Path)
}

func TestRestoreSnapshotRoundTrip(t *testing.T) {
	original := editorFixture(t)
	snap := TakeSnapshot(original)

	restored := crdt.NewDoc()
	RestoreSnapshot(restored, snap)

	again := TakeSnapshot(restored)

	toMap := func(files []FileState) map[string]FileState {
		m := map[string]FileState{}
		for _, f := range files {
			m[f.ID] = f
		}
		return m
	}
	want, got := toMap(snap.Files), toMap(again.Files)
	require.Len(t, got, len(want))
	for id, f := range want {
		assert.Equal(t, f.Path, got[id].Path, "path for %s", id)
		assert.Equal(t, f.Content, got[id].Content, "content for %s", id)
	}

	require.Len(t, again.Suggestions, len(snap.Suggestions))
	assert.Equal(t, snap.Suggestions[0], again.Suggestions[0])
}

func TestRestoreSnapshotEmitsSingleUpdate(t *testing.T) {
	snap := TakeSnapshot(editorFixture(t))

	doc := crdt.NewDoc()
	var updates int
	doc.OnUpdate(func(update []byte, origin any) {
		updates++
	})
	RestoreSnapshot(doc, snap)
	assert.Equal(t, 1, updates)
}

func TestRestoreSnapshotEmptyFallsBackCleanly(t *testing.T) {
	doc := crdt.NewDoc()
	RestoreSnapshot(doc, Snapshot{})
	snap := TakeSnapshot(doc)
	assert.Empty(t, snap.Files)
	assert.Empty(t, snap.Suggestions)
}

func TestRestoreSnapshotUsesFallbackForEmptyPath(t *testing.T) {
	doc := crdt.NewDoc()
	RestoreSnapshot(doc, Snapshot{Files: []FileState{{ID: "f1", Path: "", Content: "data"}}})

	snap := TakeSnapshot(doc)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "files/f1.txt", snap.Files[0].Path)
	assert.Equal(t, "data", snap.Files[0].Content)
}
