package compression

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// ArchiveThresholds are the character counts at which tool output triggers
// the archive protocol.
type ArchiveThresholds struct {
	// Large emits a "suggested" marker.
	Large int `yaml:"large"`

	// Huge emits an "immediate" marker.
	Huge int `yaml:"huge"`
}

// DefaultArchiveThresholds returns the default archive thresholds.
func DefaultArchiveThresholds() ArchiveThresholds {
	return ArchiveThresholds{Large: 3000, Huge: 5000}
}

// Archive urgency values.
const (
	UrgencyImmediate = "immediate"
	UrgencySuggested = "suggested"
)

// archiveDelimiters wrap the original content inside a marker message.
const (
	archiveContentOpen  = "Full content:"
	archiveContentClose = "[END CONTENT TO ARCHIVE]"
)

// Archiver rewrites oversized tool messages into archive markers that direct
// the agent to persist the content into the virtual filesystem.
type Archiver struct {
	thresholds ArchiveThresholds

	// kinds maps content-producing tool names to archive filename kinds.
	kinds map[string]string

	now func() time.Time
}

// NewArchiver creates an archiver. Tools absent from kinds are still archived
// under the generic "content" kind when they exceed the thresholds.
func NewArchiver(thresholds ArchiveThresholds, kinds map[string]string) *Archiver {
	if thresholds.Large <= 0 {
		thresholds.Large = 3000
	}
	if thresholds.Huge <= 0 {
		thresholds.Huge = 5000
	}
	if kinds == nil {
		kinds = make(map[string]string)
	}
	return &Archiver{thresholds: thresholds, kinds: kinds, now: time.Now}
}

// RegisterContentTool marks a tool as content-producing with the given
// archive kind.
func (a *Archiver) RegisterContentTool(toolName, kind string) {
	a.kinds[toolName] = kind
}

// Check returns the rewritten archive marker for a tool message, or the
// message unchanged when it is below the large threshold. Content of exactly
// the huge threshold gets an immediate marker; one character below, a
// suggested one.
func (a *Archiver) Check(msg models.Message) (models.Message, bool) {
	if msg.Role != models.RoleTool || msg.IsArchiveMarker() {
		return msg, false
	}
	size := len(msg.Content)
	if size < a.thresholds.Large {
		return msg, false
	}

	urgency := UrgencySuggested
	if size >= a.thresholds.Huge {
		urgency = UrgencyImmediate
	}
	filename := models.ArchiveFilename(a.kindFor(msg.Name), a.now())

	marker := msg
	marker.Content = a.markerContent(msg, size, urgency, filename)
	marker.Metadata = map[string]any{
		models.MetaTypeKey:   models.MetaArchiveMarker,
		"original_size":      size,
		"suggested_filename": filename,
		"urgency":            urgency,
		"created_at":         a.now().Format(time.RFC3339),
	}
	return marker, true
}

func (a *Archiver) kindFor(toolName string) string {
	if kind, ok := a.kinds[toolName]; ok {
		return kind
	}
	for registered, kind := range a.kinds {
		if strings.Contains(toolName, registered) {
			return kind
		}
	}
	return "content"
}

func (a *Archiver) markerContent(msg models.Message, size int, urgency, filename string) string {
	label := "SUGGESTED"
	if urgency == UrgencyImmediate {
		label = "IMMEDIATE"
	}
	return fmt.Sprintf(`[CONTENT TO ARCHIVE] %s

Tool: %s
Size: %d characters
Suggested filename: %s
Summary: %s

Instructions: Use write_file(%q, content) to archive this content.
Content will remain accessible via read_file() while reducing context size.

%s
%s

%s`, label, msg.Name, size, filename, contentSummary(msg.Content), filename,
		archiveContentOpen, msg.Content, archiveContentClose)
}

// ExtractArchivedContent recovers the original content from a marker message.
func ExtractArchivedContent(marker models.Message) (string, bool) {
	if !marker.IsArchiveMarker() {
		return "", false
	}
	open := strings.Index(marker.Content, archiveContentOpen)
	closeIdx := strings.LastIndex(marker.Content, archiveContentClose)
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return "", false
	}
	content := marker.Content[open+len(archiveContentOpen) : closeIdx]
	return strings.TrimRight(strings.TrimPrefix(content, "\n"), "\n"), true
}

// contentSummary produces a one-line summary of large content. Structured
// JSON gets a key or element-count summary; anything else gets its first
// lines clipped.
func contentSummary(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			keys := make([]string, 0, 5)
			for k := range obj {
				keys = append(keys, k)
				if len(keys) == 5 {
					break
				}
			}
			return "JSON data with keys: " + strings.Join(keys, ", ")
		}
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return fmt.Sprintf("JSON array with %d items", len(arr))
		}
	}
	lines := strings.SplitN(trimmed, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}
	summary := strings.Join(lines, " ")
	if len(summary) > 200 {
		summary = summary[:200] + "..."
	}
	return summary
}
