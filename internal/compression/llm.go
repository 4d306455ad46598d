package compression

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// PromptKind selects the summarisation template by content profile.
type PromptKind string

const (
	PromptGeneral   PromptKind = "general"
	PromptMCPHeavy  PromptKind = "mcp_heavy"
	PromptCode      PromptKind = "code"
	PromptPlanning  PromptKind = "planning"
	PromptTechnical PromptKind = "technical"
)

const summarySystemPrompt = "You are a context compression specialist. " +
	"Compress the conversation while preserving every detail needed for seamless continuation."

var summaryPrompts = map[PromptKind]string{
	PromptGeneral: `Compress this conversation while preserving essential information.
Keep: decisions made, open questions, identifiers (file paths, ids), and current task state.
Drop: greetings, filler, superseded attempts.

Conversation:
%s`,
	PromptMCPHeavy: `Compress this tool-heavy conversation. Tool outputs dominate the content.
Keep: which tools were called, the conclusions drawn from their outputs, file paths of archived content.
Drop: raw tool output bodies already acted upon.

Conversation:
%s`,
	PromptCode: `Compress this code-focused conversation.
Keep: file paths, function and type names, the changes made and why, remaining work.
Drop: full code listings already applied.

Conversation:
%s`,
	PromptPlanning: `Compress this planning conversation.
Keep: requirements, constraints, decisions with rationale, plan structure, approval status, open questions.
Drop: exploratory back-and-forth that was resolved.

Conversation:
%s`,
	PromptTechnical: `Compress this deep technical discussion.
Keep: architecture decisions, trade-offs considered, invariants established, terminology definitions.
Drop: repeated explanations.

Conversation:
%s`,
}

// compressLLM summarises the prefix of the conversation with a model call and
// keeps the last N messages verbatim. On LLM failure it degrades to the
// deterministic fallback template when enabled, else returns unchanged with
// the error as reason.
func (c *Compressor) compressLLM(ctx context.Context, messages []models.Message, model string) Result {
	keep := c.config.PreserveLastN
	if len(messages) <= keep+1 {
		return Result{Messages: messages, Reason: ReasonTooFewMessages}
	}

	body := messages[:len(messages)-keep]
	tail := messages[len(messages)-keep:]

	// System messages and todo-carrying messages survive every compression
	// byte-identically; only the rest of the prefix is summarised.
	kept := make([]models.Message, 0, 4)
	prefix := make([]models.Message, 0, len(body))
	for _, msg := range body {
		if msg.Role == models.RoleSystem || carriesTodos(msg) {
			kept = append(kept, msg)
			continue
		}
		prefix = append(prefix, msg)
	}
	if len(prefix) == 0 {
		return Result{Messages: messages, Reason: ReasonTooFewMessages}
	}

	summaryText, fallbackUsed, err := c.summarizePrefix(ctx, prefix, model)
	if err != nil {
		return Result{Messages: messages, Reason: "error: " + err.Error()}
	}

	summary := models.NewSystemMessage(summaryText)
	summary.Metadata = map[string]any{
		models.MetaTypeKey: models.MetaCompressionSummary,
		"original_count":   len(prefix),
		"compressed_at":    c.now().Format("2006-01-02T15:04:05Z07:00"),
	}

	out := make([]models.Message, 0, len(kept)+1+len(tail))
	out = append(out, kept...)
	out = append(out, summary)
	out = append(out, tail...)
	return Result{
		Messages: out,
		Changed:  true,
		Record:   models.CompressionRecord{FallbackUsed: fallbackUsed},
	}
}

// summarizePrefix runs the LLM call under the semaphore and rate limiter.
func (c *Compressor) summarizePrefix(ctx context.Context, prefix []models.Message, model string) (string, bool, error) {
	if c.summarizer == nil {
		if c.config.EnableFallback {
			return c.fallbackSummary(prefix), true, nil
		}
		return "", false, fmt.Errorf("no summarizer configured")
	}
	if c.limiter != nil && !c.limiter.Allow() {
		if c.metrics != nil {
			c.metrics.RateLimitDenials.Inc()
		}
		if c.config.EnableFallback {
			return c.fallbackSummary(prefix), true, nil
		}
		return "", false, fmt.Errorf("%s", ReasonRateLimited)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		if c.config.EnableFallback {
			return c.fallbackSummary(prefix), true, nil
		}
		return "", false, ctx.Err()
	}

	if c.config.CompressionModel != "" {
		model = c.config.CompressionModel
	}
	kind := detectPromptKind(prefix)
	prompt := fmt.Sprintf(summaryPrompts[kind], formatConversation(prefix))

	text, err := c.summarizer.Summarize(ctx, model, summarySystemPrompt, prompt, c.config.MaxOutputTokens)
	if err != nil {
		if c.limiter != nil {
			c.limiter.RecordError()
		}
		c.logger.Warn("llm summarisation failed", "kind", kind, "error", err)
		if c.config.EnableFallback {
			return c.fallbackSummary(prefix), true, nil
		}
		return "", false, err
	}
	if c.limiter != nil {
		c.limiter.RecordSuccess()
	}
	header := fmt.Sprintf("[Conversation Summary - %d messages compressed]\n\n", len(prefix))
	return header + strings.TrimSpace(text), false, nil
}

// detectPromptKind profiles the prefix content to choose a template.
func detectPromptKind(messages []models.Message) PromptKind {
	if toolContentFraction(messages) >= 0.5 {
		return PromptMCPHeavy
	}
	codeHits, planHits, techHits := 0, 0, 0
	codeWords := []string{"func ", "class ", "import ", "def ", "file_path", "package "}
	techWords := []string{"architecture", "latency", "throughput", "protocol", "invariant"}
	for _, m := range messages {
		lower := strings.ToLower(m.Content)
		for _, w := range codeWords {
			if strings.Contains(lower, w) {
				codeHits++
				break
			}
		}
		for _, w := range planningVocabulary {
			if strings.Contains(lower, w) {
				planHits++
				break
			}
		}
		for _, w := range techWords {
			if strings.Contains(lower, w) {
				techHits++
				break
			}
		}
	}
	switch {
	case planHits >= codeHits && planHits >= techHits && planHits > 0:
		return PromptPlanning
	case codeHits >= techHits && codeHits > 0:
		return PromptCode
	case techHits > 0:
		return PromptTechnical
	default:
		return PromptGeneral
	}
}

// formatConversation renders messages for the summarisation prompt, clipping
// oversized entries.
func formatConversation(messages []models.Message) string {
	const perMessageCap = 2000
	var b strings.Builder
	for _, m := range messages {
		content := m.Content
		if len(content) > perMessageCap {
			content = content[:perMessageCap] + "...[clipped]"
		}
		name := ""
		if m.Name != "" {
			name = " (" + m.Name + ")"
		}
		fmt.Fprintf(&b, "%s%s: %s\n", m.Role, name, content)
	}
	return b.String()
}

// fallbackSummary is the deterministic template used when the LLM path is
// unavailable: it lists the most recent user requests and assistant actions.
func (c *Compressor) fallbackSummary(prefix []models.Message) string {
	const clip = 160
	var requests, actions []string
	for _, m := range prefix {
		line := strings.TrimSpace(m.Content)
		if line == "" {
			continue
		}
		if len(line) > clip {
			line = line[:clip] + "..."
		}
		switch m.Role {
		case models.RoleUser:
			requests = append(requests, "- "+line)
		case models.RoleAssistant:
			actions = append(actions, "- "+line)
		}
	}
	if len(requests) > c.config.PreserveLastN {
		requests = requests[len(requests)-c.config.PreserveLastN:]
	}
	if len(actions) > c.config.PreserveLastN {
		actions = actions[len(actions)-c.config.PreserveLastN:]
	}
	return fmt.Sprintf(`[Conversation Summary - %d messages compressed]

Recent user requests:
%s

Recent assistant actions:
%s`, len(prefix), strings.Join(requests, "\n"), strings.Join(actions, "\n"))
}

// compressHybrid runs the selective pass first and then LLM summarisation on
// its output (on the input when the structural pass changed nothing). The LLM
// result is returned when it changed the list, else the selective result.
func (c *Compressor) compressHybrid(ctx context.Context, messages []models.Message, model string) Result {
	selective := c.compressSelective(messages)
	base := messages
	if selective.Changed {
		base = selective.Messages
	}
	llm := c.compressLLM(ctx, base, model)
	if llm.Changed {
		return llm
	}
	if selective.Changed {
		return selective
	}
	return Result{Messages: messages, Reason: llm.Reason}
}
