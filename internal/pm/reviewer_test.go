package pm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"overseer/pkg/models"
)

// cannedCompleter returns fixed responses, in order.
type cannedCompleter struct {
	responses []string
	err       error
	prompts   []string
}

func (c *cannedCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		approved bool
	}{
		{"clean approve", "APPROVE\nLooks good.", true},
		{"clean reject", "REJECT\nDoes not compile.", false},
		{"lowercase approve", "approve - fine", true},
		{"verdict embedded in prose", "I would APPROVE this change.", true},
		{"reject embedded in prose", "We must reject: missing tests.", false},
		{"empty response defaults to approve", "", true},
		{"garbage defaults to approve", "lorem ipsum dolor", true},
		{"reject on a later line", "Reviewing the diff now.\nREJECT, broken build.", false},
		{"approved keyword variant", "Approved.", true},
		{"rejected keyword variant", "Rejected.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.raw)
			if d.Approved != tt.approved {
				t.Errorf("ParseDecision(%q).Approved = %v, want %v", tt.raw, d.Approved, tt.approved)
			}
		})
	}
}

func TestParseDecisionNote(t *testing.T) {
	d := ParseDecision("REJECT\nThe change deletes the migration runner.")
	if d.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(d.Note, "migration runner") {
		t.Errorf("note = %q, want the rationale line", d.Note)
	}

	d = ParseDecision("")
	if d.Note == "" {
		t.Error("default approval should explain itself")
	}
}

func TestReviewBuildsPromptAndParses(t *testing.T) {
	c := &cannedCompleter{responses: []string{"APPROVE\nSolid work."}}
	r := NewReviewer(c)

	task := models.Task{ID: "t1", Type: models.TaskTypeImplement, Description: "add rate limiter"}
	d, err := r.Review(context.Background(), task, "done", "diff --git a/x b/x")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !d.Approved {
		t.Error("expected approval")
	}
	if len(c.prompts) != 1 || !strings.Contains(c.prompts[0], "add rate limiter") {
		t.Errorf("prompt missing task description: %q", c.prompts)
	}
}

func TestReviewPropagatesBackendError(t *testing.T) {
	c := &cannedCompleter{err: errors.New("api down")}
	r := NewReviewer(c)

	_, err := r.Review(context.Background(), models.Task{ID: "t1"}, "", "")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnswerEscalates(t *testing.T) {
	c := &cannedCompleter{responses: []string{"ESCALATE"}}
	r := NewReviewer(c)

	_, escalate, err := r.Answer(context.Background(), "which cloud account?", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !escalate {
		t.Error("expected escalation")
	}
}

func TestAnswerReturnsText(t *testing.T) {
	c := &cannedCompleter{responses: []string{"Use the staging database.\n"}}
	r := NewReviewer(c)

	answer, escalate, err := r.Answer(context.Background(), "which db?", "task t3")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if escalate {
		t.Error("unexpected escalation")
	}
	if answer != "Use the staging database." {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(c.prompts[0], "task t3") {
		t.Errorf("context missing from prompt: %q", c.prompts[0])
	}
}

func TestReformulateIncludesContext(t *testing.T) {
	c := &cannedCompleter{responses: []string{" Should the API keep v1 routes? \n"}}
	r := NewReviewer(c)

	q, err := r.Reformulate(context.Background(), "keep v1 routes?", "task t2: API rework")
	if err != nil {
		t.Fatalf("Reformulate: %v", err)
	}
	if q != "Should the API keep v1 routes?" {
		t.Errorf("reformulated = %q", q)
	}
	if !strings.Contains(c.prompts[0], "task t2: API rework") {
		t.Errorf("context missing from prompt: %q", c.prompts[0])
	}
}

func TestSynthesizeCombinesQuestionAndAnswer(t *testing.T) {
	c := &cannedCompleter{responses: []string{"Drop the v1 routes after the deprecation window."}}
	r := NewReviewer(c)

	guidance, err := r.Synthesize(context.Background(), "keep v1 routes?", "drop them next quarter")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if guidance != "Drop the v1 routes after the deprecation window." {
		t.Errorf("guidance = %q", guidance)
	}
	if !strings.Contains(c.prompts[0], "keep v1 routes?") || !strings.Contains(c.prompts[0], "drop them next quarter") {
		t.Errorf("prompt missing question or answer: %q", c.prompts[0])
	}
}

func TestSynthesizeBackendError(t *testing.T) {
	c := &cannedCompleter{err: errors.New("api down")}
	r := NewReviewer(c)

	if _, err := r.Synthesize(context.Background(), "q", "a"); err == nil {
		t.Fatal("expected error")
	}
}
