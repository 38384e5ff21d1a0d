package store

import (
	"strings"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// FileState is the persistable projection of one shared file.
type FileState struct {
	ID      string
	Path    string
	Content string
}

// SuggestionState is the persistable projection of one suggestion.
type SuggestionState struct {
	ID        string
	FileID    string
	CreatorID string
	Text      string
	Votes     map[string]int64
}

// Snapshot is a pure value capturing everything a project doc persists.
// Taking one requires no I/O, so rooms can snapshot under their lock and
// write to the store after releasing it.
type Snapshot struct {
	Files       []FileState
	Suggestions []SuggestionState
}

// TakeSnapshot projects the persistable containers of a project doc.
// File paths are derived from the file tree, falling back to the flat
// files/ directory for files the tree cannot place.
func TakeSnapshot(doc *crdt.Doc) Snapshot {
	var snap Snapshot

	files := doc.GetMap(types.ContainerFiles)
	nodes := doc.GetMap(types.ContainerTreeNodes)
	for _, fileID := range files.Keys() {
		text := files.GetText(fileID)
		if text == nil {
			continue
		}
		path, ok := BuildFilePathFromTree(nodes, fileID)
		if !ok {
			path = FallbackFilePath(fileID)
		}
		snap.Files = append(snap.Files, FileState{ID: fileID, Path: path, Content: text.String()})
	}

	suggestions := doc.GetMap(types.ContainerSuggestions)
	for _, sid := range suggestions.Keys() {
		entry := suggestions.GetMap(sid)
		if entry == nil {
			continue
		}
		s := SuggestionState{
			ID:        sid,
			FileID:    entry.Str("fileId"),
			CreatorID: entry.Str("authorId"),
			Text:      entry.Str("text"),
			Votes:     make(map[string]int64),
		}
		if votes := entry.GetMap("votes"); votes != nil {
			for _, uid := range votes.Keys() {
				s.Votes[uid] = votes.Int(uid)
			}
		}
		snap.Suggestions = append(snap.Suggestions, s)
	}

	return snap
}

// RestoreSnapshot rebuilds the shared containers of a fresh project doc
// from persisted records. The whole rebuild commits as one transaction.
// File tree nodes are reconstructed from the persisted paths: folders get
// synthetic "folder:<path>" ids, file nodes reuse the file id.
func RestoreSnapshot(doc *crdt.Doc, snap Snapshot) {
	doc.Transact(nil, func() {
		files := doc.GetMap(types.ContainerFiles)
		tree := newTreeBuilder(doc)

		for _, f := range snap.Files {
			text := files.SetText(f.ID)
			if f.Content != "" {
				text.Insert(0, f.Content)
			}
			path := f.Path
			if path == "" {
				path = FallbackFilePath(f.ID)
			}
			tree.place(f.ID, path)
		}

		suggestions := doc.GetMap(types.ContainerSuggestions)
		for _, s := range snap.Suggestions {
			entry := suggestions.SetMap(s.ID)
			entry.Set("fileId", s.FileID)
			entry.Set("authorId", s.CreatorID)
			entry.Set("text", s.Text)
			votes := entry.SetMap("votes")
			for uid, count := range s.Votes {
				votes.Set(uid, count)
			}
		}
	})
}

// treeBuilder reconstructs file-tree nodes from flat paths.
type treeBuilder struct {
	nodes    *crdt.Map
	roots    *crdt.Array
	children map[string]*crdt.Array // nodeId -> children array handle
}

func newTreeBuilder(doc *crdt.Doc) *treeBuilder {
	return &treeBuilder{
		nodes:    doc.GetMap(types.ContainerTreeNodes),
		roots:    doc.GetArray(types.ContainerTreeRoots),
		children: make(map[string]*crdt.Array),
	}
}

func (b *treeBuilder) place(fileID, path string) {
	segments := strings.Split(path, "/")
	fileName := segments[len(segments)-1]

	parentID := ""
	prefix := ""
	for _, seg := range segments[:len(segments)-1] {
		if prefix == "" {
			prefix = seg
		} else {
			prefix += "/" + seg
		}
		folderID := "folder:" + prefix
		if _, ok := b.children[folderID]; !ok {
			node := b.nodes.SetMap(folderID)
			node.Set("name", seg)
			node.Set("kind", "folder")
			b.children[folderID] = node.SetArray("children")
			b.attach(node, folderID, parentID)
		}
		parentID = folderID
	}

	node := b.nodes.SetMap(fileID)
	node.Set("name", fileName)
	node.Set("kind", "file")
	node.SetArray("children")
	b.attach(node, fileID, parentID)
}

func (b *treeBuilder) attach(node *crdt.Map, nodeID, parentID string) {
	if parentID == "" {
		node.Set("parentId", nil)
		b.roots.Push(nodeID)
		return
	}
	node.Set("parentId", parentID)
	b.children[parentID].Push(nodeID)
}
