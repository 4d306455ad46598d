// Package files implements the virtual filesystem tools: ls, read_file,
// write_file, edit_file, and the maintenance tools over the archive naming
// conventions. The virtual filesystem is a path→content map in agent state;
// nothing here touches the real filesystem.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/deepplan/internal/agent"
	"github.com/haasonsaas/deepplan/internal/tools"
	"github.com/haasonsaas/deepplan/pkg/models"
)

const (
	// readLineLimit is the default number of lines returned by read_file.
	readLineLimit = 2000

	// readLineCap truncates individual long lines.
	readLineCap = 2000
)

// LsTool lists virtual files.
type LsTool struct{}

type lsInput struct{}

func (t *LsTool) Name() string        { return "ls" }
func (t *LsTool) Description() string { return "List all files in the virtual filesystem." }
func (t *LsTool) Schema() json.RawMessage {
	return tools.MustSchema(&lsInput{})
}

func (t *LsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	snapshot := agent.StateSnapshotFromContext(ctx)
	if snapshot == nil || len(snapshot.Files) == 0 {
		return &agent.ToolOutput{Content: "(empty)"}, nil
	}
	paths := models.SortedPaths(snapshot.Files)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s (%d chars)\n", p, len(snapshot.Files[p]))
	}
	return &agent.ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// ReadFileTool reads a virtual file with optional offset and limit.
type ReadFileTool struct{}

type readFileInput struct {
	Path   string `json:"path" jsonschema:"required,description=Path of the virtual file to read"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Line number to start reading from (0-based)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to return"`
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file from the virtual filesystem, with line numbers."
}
func (t *ReadFileTool) Schema() json.RawMessage {
	return tools.MustSchema(&readFileInput{})
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var in readFileInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolOutput{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	snapshot := agent.StateSnapshotFromContext(ctx)
	if snapshot == nil {
		return &agent.ToolOutput{Content: "no state available", IsError: true}, nil
	}
	content, ok := snapshot.Files[in.Path]
	if !ok {
		return &agent.ToolOutput{Content: fmt.Sprintf("file not found: %s", in.Path), IsError: true}, nil
	}
	if content == "" {
		return &agent.ToolOutput{Content: "(empty file)"}, nil
	}

	lines := strings.Split(content, "\n")
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return &agent.ToolOutput{Content: fmt.Sprintf("offset %d beyond end of file (%d lines)", offset, len(lines)), IsError: true}, nil
	}
	limit := in.Limit
	if limit <= 0 {
		limit = readLineLimit
	}
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset; i < end; i++ {
		line := lines[i]
		if len(line) > readLineCap {
			line = line[:readLineCap] + "..."
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return &agent.ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// WriteFileTool writes a virtual file. The written path is also recorded as
// a phase output so the orchestrator's required-output checks see it.
type WriteFileTool struct{}

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=Path of the virtual file to write"`
	Content string `json:"content" jsonschema:"required,description=Full content to write"`
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write a file to the virtual filesystem, replacing any existing content."
}
func (t *WriteFileTool) Schema() json.RawMessage {
	return tools.MustSchema(&writeFileInput{})
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var in writeFileInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolOutput{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if in.Path == "" {
		return &agent.ToolOutput{Content: "path is required", IsError: true}, nil
	}
	return &agent.ToolOutput{
		Content: fmt.Sprintf("Wrote %d chars to %s", len(in.Content), in.Path),
		Update: &agent.ToolStateUpdate{
			Files:        map[string]string{in.Path: in.Content},
			PhaseOutputs: map[string]string{in.Path: in.Path},
		},
	}, nil
}

// EditFileTool performs a string replacement in a virtual file.
type EditFileTool struct{}

type editFileInput struct {
	Path       string `json:"path" jsonschema:"required,description=Path of the virtual file to edit"`
	OldString  string `json:"old_string" jsonschema:"required,description=Exact text to replace"`
	NewString  string `json:"new_string" jsonschema:"required,description=Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of requiring uniqueness"`
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace a string in a virtual file. The old string must be unique unless replace_all is set."
}
func (t *EditFileTool) Schema() json.RawMessage {
	return tools.MustSchema(&editFileInput{})
}

func (t *EditFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var in editFileInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolOutput{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	snapshot := agent.StateSnapshotFromContext(ctx)
	if snapshot == nil {
		return &agent.ToolOutput{Content: "no state available", IsError: true}, nil
	}
	content, ok := snapshot.Files[in.Path]
	if !ok {
		return &agent.ToolOutput{Content: fmt.Sprintf("file not found: %s", in.Path), IsError: true}, nil
	}
	count := strings.Count(content, in.OldString)
	if count == 0 {
		return &agent.ToolOutput{Content: fmt.Sprintf("old_string not found in %s", in.Path), IsError: true}, nil
	}
	if count > 1 && !in.ReplaceAll {
		return &agent.ToolOutput{
			Content: fmt.Sprintf("old_string appears %d times in %s; pass replace_all or make it unique", count, in.Path),
			IsError: true,
		}, nil
	}

	updated := strings.Replace(content, in.OldString, in.NewString, 1)
	replaced := 1
	if in.ReplaceAll {
		updated = strings.ReplaceAll(content, in.OldString, in.NewString)
		replaced = count
	}
	return &agent.ToolOutput{
		Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, in.Path),
		Update: &agent.ToolStateUpdate{
			Files: map[string]string{in.Path: updated},
		},
	}, nil
}

// OrganizeTool reports the virtual filesystem grouped by naming convention.
type OrganizeTool struct{}

type organizeInput struct{}

func (t *OrganizeTool) Name() string { return "organize_virtual_fs" }
func (t *OrganizeTool) Description() string {
	return "Report virtual filesystem contents grouped by category (mcp archives, context files, workspace, temp)."
}
func (t *OrganizeTool) Schema() json.RawMessage {
	return tools.MustSchema(&organizeInput{})
}

func (t *OrganizeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	snapshot := agent.StateSnapshotFromContext(ctx)
	if snapshot == nil || len(snapshot.Files) == 0 {
		return &agent.ToolOutput{Content: "Virtual filesystem is empty."}, nil
	}

	categories := make(map[models.FileCategory][]string)
	for _, path := range models.SortedPaths(snapshot.Files) {
		cat := models.CategorizeFile(path)
		categories[cat] = append(categories[cat], path)
	}

	var b strings.Builder
	b.WriteString("# Virtual Filesystem Report\n")
	order := []models.FileCategory{
		models.FileCategoryMCPArchive, models.FileCategoryContext,
		models.FileCategoryWorkspace, models.FileCategoryTemp, models.FileCategoryOther,
	}
	for _, cat := range order {
		paths := categories[cat]
		if len(paths) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s (%d)\n", cat, len(paths))
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s (%d chars)\n", p, len(snapshot.Files[p]))
		}
	}
	if n := len(categories[models.FileCategoryTemp]); n > 0 {
		fmt.Fprintf(&b, "\nConsider removing %d temporary file(s) with cleanup_old_archives.\n", n)
	}
	return &agent.ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// CleanupTool removes old archive files with a given prefix, keeping the
// most recent N. Archive filenames embed a sortable timestamp, so lexical
// order is chronological.
type CleanupTool struct{}

type cleanupInput struct {
	Prefix string `json:"prefix" jsonschema:"required,description=File prefix to clean (e.g. mcp_rag_ or temp_)"`
	Keep   int    `json:"keep,omitempty" jsonschema:"description=How many newest files to keep (default 3)"`
}

func (t *CleanupTool) Name() string { return "cleanup_old_archives" }
func (t *CleanupTool) Description() string {
	return "Delete old archive files matching a prefix, keeping the newest ones."
}
func (t *CleanupTool) Schema() json.RawMessage {
	return tools.MustSchema(&cleanupInput{})
}

func (t *CleanupTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var in cleanupInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolOutput{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if in.Prefix == "" {
		return &agent.ToolOutput{Content: "prefix is required", IsError: true}, nil
	}
	keep := in.Keep
	if keep <= 0 {
		keep = 3
	}
	snapshot := agent.StateSnapshotFromContext(ctx)
	if snapshot == nil {
		return &agent.ToolOutput{Content: "no state available", IsError: true}, nil
	}

	var matching []string
	for path := range snapshot.Files {
		if strings.HasPrefix(path, in.Prefix) {
			matching = append(matching, path)
		}
	}
	sort.Strings(matching)
	if len(matching) <= keep {
		return &agent.ToolOutput{Content: fmt.Sprintf("Nothing to clean: %d file(s) match %q", len(matching), in.Prefix)}, nil
	}

	remove := matching[:len(matching)-keep]
	update := make(map[string]string, len(remove))
	for _, path := range remove {
		update[path] = ""
	}
	return &agent.ToolOutput{
		Content: fmt.Sprintf("Removed %d old file(s), kept %d newest", len(remove), keep),
		Update:  &agent.ToolStateUpdate{Files: update},
	}, nil
}
