package files

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/deepplan/internal/agent"
	"github.com/haasonsaas/deepplan/internal/state"
)

func ctxWithFiles(files map[string]string) context.Context {
	st := state.New()
	st.Apply(state.Update{Files: files})
	return agent.WithStateSnapshot(context.Background(), st)
}

func TestLs(t *testing.T) {
	ctx := ctxWithFiles(map[string]string{"b.md": "22", "a.md": "1"})
	out, err := (&LsTool{}).Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Sorted, with sizes.
	if !strings.HasPrefix(out.Content, "a.md (1 chars)") {
		t.Errorf("ls output = %q", out.Content)
	}

	empty, _ := (&LsTool{}).Execute(agent.WithStateSnapshot(context.Background(), state.New()), nil)
	if empty.Content != "(empty)" {
		t.Errorf("empty ls = %q", empty.Content)
	}
}

func TestReadFile(t *testing.T) {
	ctx := ctxWithFiles(map[string]string{"notes.md": "line one\nline two\nline three"})

	out, err := (&ReadFileTool{}).Execute(ctx, json.RawMessage(`{"path":"notes.md"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Content, "1\tline one") {
		t.Errorf("missing numbered first line: %q", out.Content)
	}

	offset, _ := (&ReadFileTool{}).Execute(ctx, json.RawMessage(`{"path":"notes.md","offset":1,"limit":1}`))
	if !strings.Contains(offset.Content, "line two") || strings.Contains(offset.Content, "line three") {
		t.Errorf("offset/limit not honored: %q", offset.Content)
	}

	missing, _ := (&ReadFileTool{}).Execute(ctx, json.RawMessage(`{"path":"nope.md"}`))
	if !missing.IsError {
		t.Error("missing file should be an error output")
	}
}

func TestWriteFile_RecordsPhaseOutput(t *testing.T) {
	ctx := ctxWithFiles(nil)
	out, err := (&WriteFileTool{}).Execute(ctx, json.RawMessage(`{"path":"investigation_findings.md","content":"findings"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out.IsError {
		t.Fatalf("write failed: %s", out.Content)
	}
	if out.Update == nil || out.Update.Files["investigation_findings.md"] != "findings" {
		t.Errorf("file update = %+v", out.Update)
	}
	if out.Update.PhaseOutputs["investigation_findings.md"] == "" {
		t.Error("written file not recorded as phase output")
	}
}

func TestEditFile(t *testing.T) {
	ctx := ctxWithFiles(map[string]string{"doc.md": "alpha beta alpha"})

	dup, _ := (&EditFileTool{}).Execute(ctx, json.RawMessage(`{"path":"doc.md","old_string":"alpha","new_string":"x"}`))
	if !dup.IsError || !strings.Contains(dup.Content, "2 times") {
		t.Errorf("ambiguous replacement accepted: %+v", dup)
	}

	all, _ := (&EditFileTool{}).Execute(ctx, json.RawMessage(`{"path":"doc.md","old_string":"alpha","new_string":"x","replace_all":true}`))
	if all.IsError {
		t.Fatalf("replace_all failed: %s", all.Content)
	}
	if all.Update.Files["doc.md"] != "x beta x" {
		t.Errorf("edited content = %q", all.Update.Files["doc.md"])
	}

	one, _ := (&EditFileTool{}).Execute(ctx, json.RawMessage(`{"path":"doc.md","old_string":"beta","new_string":"gamma"}`))
	if one.IsError {
		t.Fatalf("unique replacement failed: %s", one.Content)
	}
	if one.Update.Files["doc.md"] != "alpha gamma alpha" {
		t.Errorf("edited content = %q", one.Update.Files["doc.md"])
	}
}

func TestOrganize(t *testing.T) {
	ctx := ctxWithFiles(map[string]string{
		"mcp_rag_20250101_000000.json": "data",
		"context_summary.md":           "sum",
		"temp_scratch.json":            "tmp",
	})
	out, err := (&OrganizeTool{}).Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"mcp_archive", "context", "temp", "cleanup_old_archives"} {
		if !strings.Contains(out.Content, want) {
			t.Errorf("report missing %q:\n%s", want, out.Content)
		}
	}
}

func TestCleanup_KeepsNewest(t *testing.T) {
	ctx := ctxWithFiles(map[string]string{
		"mcp_rag_20250101_000000.json": "old",
		"mcp_rag_20250102_000000.json": "mid",
		"mcp_rag_20250103_000000.json": "new",
	})
	out, err := (&CleanupTool{}).Execute(ctx, json.RawMessage(`{"prefix":"mcp_rag_","keep":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if out.IsError {
		t.Fatalf("cleanup failed: %s", out.Content)
	}
	if len(out.Update.Files) != 2 {
		t.Fatalf("deletions = %d, want 2", len(out.Update.Files))
	}
	if _, gone := out.Update.Files["mcp_rag_20250103_000000.json"]; gone {
		t.Error("newest file scheduled for deletion")
	}
	for path, v := range out.Update.Files {
		if v != "" {
			t.Errorf("deletion for %s should use empty value", path)
		}
	}
}
