package pm

import (
	"context"
	"fmt"
	"strings"

	"overseer/pkg/models"
)

const reviewSystemPrompt = `You are the project manager for a team of coding agents.
You review completed work against the task it was assigned for.

Respond with a verdict on the first line: APPROVE or REJECT.
Follow it with a one-paragraph rationale. Reject only when the work clearly
fails to address the task or would break the project.`

const answerSystemPrompt = `You are the project manager for a team of coding agents.
An agent is blocked on a question. Answer concisely and concretely so the
agent can continue. If the question needs information only a human has, say
exactly: ESCALATE.`

const reformulateSystemPrompt = `You are the project manager relaying a coding agent's
question to a human operator. Rewrite the question so someone without the
agent's context can answer it quickly: state what is being decided and the
options, if any. Respond with the rewritten question only.`

const synthesizeSystemPrompt = `You are the project manager. A coding agent asked a
question, a human operator answered it, and you now give the agent its final
guidance. Combine the question and the human's answer into one clear,
actionable instruction. Respond with the instruction only.`

// Decision is the outcome of a PM review.
type Decision struct {
	Approved bool
	// Note is the rationale attached to the task.
	Note string
}

// Reviewer makes review and answer decisions using an LLM backend.
type Reviewer struct {
	completer Completer
	debugLog  func(format string, args ...interface{})
}

// NewReviewer creates a Reviewer on the given backend.
func NewReviewer(completer Completer) *Reviewer {
	return &Reviewer{
		completer: completer,
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (r *Reviewer) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Review judges a completed task against its description. The diff is the
// branch's changes relative to the main line; the summary is the agent's own
// account of the work.
func (r *Reviewer) Review(ctx context.Context, task models.Task, summary, diff string) (Decision, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s (%s): %s\n", task.ID, task.Type, task.Description)
	if summary != "" {
		fmt.Fprintf(&b, "\nAgent summary:\n%s\n", summary)
	}
	if diff != "" {
		fmt.Fprintf(&b, "\nChanges:\n%s\n", truncate(diff, 40000))
	} else {
		b.WriteString("\nNo diff is available for this branch.\n")
	}

	raw, err := r.completer.Complete(ctx, reviewSystemPrompt, b.String())
	if err != nil {
		return Decision{}, fmt.Errorf("review task %s: %w", task.ID, err)
	}

	d := ParseDecision(raw)
	r.debugLog("[pm] review %s: approved=%v", task.ID, d.Approved)
	return d, nil
}

// Answer produces a reply to an agent question. Returns escalate=true when
// the model defers to a human.
func (r *Reviewer) Answer(ctx context.Context, question, taskContext string) (answer string, escalate bool, err error) {
	prompt := question
	if taskContext != "" {
		prompt = fmt.Sprintf("Context: %s\n\nQuestion: %s", taskContext, question)
	}

	raw, err := r.completer.Complete(ctx, answerSystemPrompt, prompt)
	if err != nil {
		return "", false, fmt.Errorf("answer question: %w", err)
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToUpper(trimmed), "ESCALATE") {
		return "", true, nil
	}
	return trimmed, false, nil
}

// Reformulate rewrites an agent question for a human operator who lacks the
// agent's context.
func (r *Reviewer) Reformulate(ctx context.Context, question, taskContext string) (string, error) {
	prompt := question
	if taskContext != "" {
		prompt = fmt.Sprintf("Agent context: %s\n\nAgent question: %s", taskContext, question)
	}

	raw, err := r.completer.Complete(ctx, reformulateSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("reformulate question: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// Synthesize turns the human's answer to an escalated question into final
// guidance for the asking agent.
func (r *Reviewer) Synthesize(ctx context.Context, question, humanAnswer string) (string, error) {
	prompt := fmt.Sprintf("Agent question: %s\n\nHuman answer: %s", question, humanAnswer)

	raw, err := r.completer.Complete(ctx, synthesizeSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// ParseDecision extracts a verdict from raw model output. The parser is
// lenient: only an unambiguous rejection rejects, anything else approves.
// A stalled review must not wedge the pipeline on a formatting quirk.
func ParseDecision(raw string) Decision {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Decision{Approved: true, Note: "empty review response, approved by default"}
	}

	verdictLine := trimmed
	rest := ""
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		verdictLine = trimmed[:idx]
		rest = strings.TrimSpace(trimmed[idx+1:])
	}

	upper := strings.ToUpper(verdictLine)
	switch {
	case strings.Contains(upper, "REJECT"):
		note := rest
		if note == "" {
			note = verdictLine
		}
		return Decision{Approved: false, Note: firstLine(note)}
	case strings.Contains(upper, "APPROVE"):
		return Decision{Approved: true, Note: firstLine(rest)}
	default:
		// No recognizable verdict on the first line. Scan the whole body for
		// a rejection before defaulting to approve.
		if strings.Contains(strings.ToUpper(trimmed), "\nREJECT") {
			return Decision{Approved: false, Note: firstLine(trimmed)}
		}
		return Decision{Approved: true, Note: "unparseable review response, approved by default"}
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
