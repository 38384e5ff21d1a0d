package store

import (
	"strings"

	"github.com/davidatlihan/codesafe/internal/v1/crdt"
)

// fallbackDir collects files whose tree position cannot be resolved.
const fallbackDir = "files"

// unsafe path characters, replaced segment-wise with '_'.
const unsafeSegmentChars = `\/:*?"<>|`

// SanitizeSegment makes a node name safe to use as one path segment.
// Empty or whitespace-only names become "untitled".
func SanitizeSegment(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(unsafeSegmentChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "untitled"
	}
	return out
}

// FallbackFilePath names a file that has no resolvable position in the tree.
func FallbackFilePath(fileID string) string {
	return fallbackDir + "/" + SanitizeSegment(fileID) + ".txt"
}

// BuildFilePathFromTree derives a file's path by walking parent links from
// its tree node to a root. Each visited node contributes its sanitized name;
// segments are joined root-first with '/'.
//
// A node whose lookup misses ends the walk and the collected segments stand,
// but only when at least one segment was already collected; a missing leaf
// node yields no path. Revisiting a node id (a cycle) also yields no path.
func BuildFilePathFromTree(nodes *crdt.Map, fileID string) (string, bool) {
	var segments []string
	visited := make(map[string]bool)
	cur := fileID
	for {
		if visited[cur] {
			return "", false
		}
		visited[cur] = true

		node := nodes.GetMap(cur)
		if node == nil {
			if len(segments) == 0 {
				return "", false
			}
			break
		}
		segments = append(segments, SanitizeSegment(node.Str("name")))

		parent, ok := node.Get("parentId")
		if !ok || parent.Kind != crdt.ValueString || parent.Str == "" {
			break
		}
		cur = parent.Str
	}

	// Collected leaf-first; reverse into root-first order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/"), true
}
