package compression

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// minBufferSize is the smallest compressible run replaced by one summary.
const minBufferSize = 10

// todoIndicators mark messages that carry task tracking and must survive.
var todoIndicators = []string{
	"write_todos", "todo list", "task tracking", "pending",
	"in_progress", "completed",
}

// vfsIndicators mark messages that reference the virtual filesystem.
var vfsIndicators = []string{
	"write_file", "read_file", "edit_file", "ls()", "virtual filesystem",
}

// compressSelective partitions messages into preserve and compressible sets
// and replaces compressible runs of at least minBufferSize with one synthetic
// system summary each. Preserved messages survive byte-identically.
func (c *Compressor) compressSelective(messages []models.Message) Result {
	if len(messages) < minBufferSize {
		return Result{Messages: messages, Reason: ReasonTooFewMessages}
	}

	preserved := make(map[int]bool, len(messages))
	for i, msg := range messages {
		if c.shouldPreserve(msg, i, len(messages)) {
			preserved[i] = true
		}
	}

	out := make([]models.Message, 0, len(messages))
	var buffer []models.Message
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if len(buffer) >= minBufferSize {
			out = append(out, c.summarizeBuffer(buffer))
		} else {
			out = append(out, buffer...)
		}
		buffer = nil
	}

	for i, msg := range messages {
		if preserved[i] {
			flush()
			out = append(out, msg)
			continue
		}
		buffer = append(buffer, msg)
	}
	flush()

	if len(out) == len(messages) {
		return Result{Messages: messages, Reason: ReasonInsufficientReduction}
	}
	return Result{Messages: out, Changed: true}
}

// shouldPreserve applies the preservation rules: system role, todo markers,
// virtual-file references, the last N messages, and recent tool results
// (a more generous 2N window).
func (c *Compressor) shouldPreserve(msg models.Message, index, total int) bool {
	if msg.Role == models.RoleSystem {
		return true
	}
	if index >= total-c.config.PreserveLastN {
		return true
	}
	if msg.Role == models.RoleTool && index >= total-c.config.PreserveLastN*2 {
		return true
	}
	if carriesTodos(msg) {
		return true
	}
	lower := strings.ToLower(msg.Content)
	for _, indicator := range vfsIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// carriesTodos reports whether a message contains task-tracking content that
// must survive every compression.
func carriesTodos(msg models.Message) bool {
	lower := strings.ToLower(msg.Content)
	for _, indicator := range todoIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// summarizeBuffer collapses a run of compressible messages into a single
// system message with counts, roles, extracted topics, and timeframe.
func (c *Compressor) summarizeBuffer(buffer []models.Message) models.Message {
	var users, assistants, tools int
	for _, m := range buffer {
		switch m.Role {
		case models.RoleUser:
			users++
		case models.RoleAssistant:
			assistants++
		case models.RoleTool:
			tools++
		}
	}

	topics := extractTopics(buffer)
	topicLine := "General conversation"
	if len(topics) > 0 {
		topicLine = strings.Join(topics, ", ")
	}

	content := fmt.Sprintf(`[Conversation Summary - %d messages compressed]

User Requests: %d requests
Assistant Actions: %d responses
Tool Calls: %d tool invocations
Key Topics: %s
Timeframe: %s

Note: This summary replaces %d historical messages to manage context size.`,
		len(buffer), users, assistants, tools, topicLine, timeframe(len(buffer)), len(buffer))

	summary := models.NewSystemMessage(content)
	summary.Metadata = map[string]any{
		models.MetaTypeKey: models.MetaCompressionSummary,
		"original_count":   len(buffer),
		"compressed_at":    c.now().Format("2006-01-02T15:04:05Z07:00"),
	}
	return summary
}

var topicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:function|class|method|variable)\s+(\w+)`),
	regexp.MustCompile(`(?i)\b(?:import|from)\s+(\w+)`),
	regexp.MustCompile(`(?i)\b(API|endpoint|service|database|query)\b`),
	regexp.MustCompile(`(?i)\b(error|exception|bug|issue)\b`),
	regexp.MustCompile(`(?i)\b(test|testing)\b`),
}

// extractTopics pulls the technical terms matched in a message run and
// returns the alphabetically first ten distinct ones.
func extractTopics(messages []models.Message) []string {
	seen := make(map[string]bool)
	for _, msg := range messages {
		for _, re := range topicPatterns {
			for _, match := range re.FindAllStringSubmatch(msg.Content, -1) {
				term := strings.ToLower(match[len(match)-1])
				if term != "" {
					seen[term] = true
				}
			}
		}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	if len(topics) > 10 {
		topics = topics[:10]
	}
	return topics
}

// timeframe buckets a run by message count.
func timeframe(count int) string {
	switch {
	case count <= 5:
		return "Brief conversation"
	case count <= 15:
		return "Medium conversation"
	default:
		return "Extended conversation"
	}
}
