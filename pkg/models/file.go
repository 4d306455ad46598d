package models

import (
	"sort"
	"strings"
	"time"
)

// Virtual file naming conventions. The virtual filesystem is a path→content
// map in agent state; the runtime only sizes content in characters.
const (
	// FilePrefixMCP marks archived tool output (mcp_<kind>_<timestamp>.json).
	FilePrefixMCP = "mcp_"

	// FilePrefixContext marks context summaries and snapshots (context_*.md).
	FilePrefixContext = "context_"

	// FilePrefixWorkspace marks working files (workspace_*).
	FilePrefixWorkspace = "workspace_"

	// FilePrefixTemp marks throwaway files eligible for cleanup (temp_*).
	FilePrefixTemp = "temp_"
)

// ArchiveTimestampLayout is the timestamp embedded in archive filenames.
const ArchiveTimestampLayout = "20060102_150405"

// ArchiveFilename builds an archive filename for a tool's content kind,
// e.g. ArchiveFilename("rag", t) → "mcp_rag_20250214_093041.json".
func ArchiveFilename(kind string, at time.Time) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "content"
	}
	return FilePrefixMCP + kind + "_" + at.Format(ArchiveTimestampLayout) + ".json"
}

// FileCategory classifies a virtual file path by its naming convention.
type FileCategory string

const (
	FileCategoryMCPArchive FileCategory = "mcp_archive"
	FileCategoryContext    FileCategory = "context"
	FileCategoryWorkspace  FileCategory = "workspace"
	FileCategoryTemp       FileCategory = "temp"
	FileCategoryOther      FileCategory = "other"
)

// CategorizeFile returns the category for a virtual file path.
func CategorizeFile(path string) FileCategory {
	switch {
	case strings.HasPrefix(path, FilePrefixMCP):
		return FileCategoryMCPArchive
	case strings.HasPrefix(path, FilePrefixContext):
		return FileCategoryContext
	case strings.HasPrefix(path, FilePrefixWorkspace):
		return FileCategoryWorkspace
	case strings.HasPrefix(path, FilePrefixTemp):
		return FileCategoryTemp
	default:
		return FileCategoryOther
	}
}

// MergeFiles merges file maps with last-write-wins per path. An empty value
// in the update deletes the path.
func MergeFiles(existing, update map[string]string) map[string]string {
	if len(update) == 0 {
		return existing
	}
	out := make(map[string]string, len(existing)+len(update))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range update {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// SortedPaths returns the file paths in lexical order.
func SortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
