package harness

import "github.com/roach88/stockline/internal/flow"

// Turn is one step of a transcript.
type Turn struct {
	Identity string       `json:"identity,omitempty"`
	Input    string       `json:"input"`
	Replies  []flow.Reply `json:"replies,omitempty"`
	Flow     string       `json:"flow,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Transcript []Turn `json:"transcript"`

	// Errors lists failed expectations and assertions in order.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Transcript: []Turn{},
		Errors:     []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTurn appends a turn to the transcript.
func (r *Result) AddTurn(t Turn) {
	r.Transcript = append(r.Transcript, t)
}

// lastChoices returns the buttons of identity's most recent reply that
// had any, even if later replies had none, so scenarios can tap stale
// buttons.
func (r *Result) lastChoices(identity string) []flow.Choice {
	for i := len(r.Transcript) - 1; i >= 0; i-- {
		t := r.Transcript[i]
		if t.Identity != identity {
			continue
		}
		for j := len(t.Replies) - 1; j >= 0; j-- {
			if len(t.Replies[j].Choices) > 0 {
				return t.Replies[j].Choices
			}
		}
	}
	return nil
}
