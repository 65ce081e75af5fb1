package agent

import (
	"context"
	"strings"
)

const interruptedNote = "[response interrupted]"

var retryActions = []string{
	"Try asking again",
	"Rephrase your question",
	"Break the request into smaller steps",
}

// finalizeSuccess emits the final event for a normally-completed request.
// Finalization is idempotent: only the first call produces output.
func (o *Orchestrator) finalizeSuccess(ctx context.Context, st *loopState, events chan<- *StreamEvent) {
	if st.finalized {
		return
	}
	st.finalized = true
	st.phase = PhaseFinalizing

	content := st.transcript.String()
	if st.budgetExhausted {
		if content != "" {
			content += "\n\n"
		}
		content += BudgetExhaustedNote
	}

	if !o.emit(ctx, events, &StreamEvent{Type: EventFinal, Payload: &FinalPayload{
		Agent:       o.config.AgentName,
		Content:     content,
		NextActions: nextActions(st),
	}}) {
		o.countOutcome("aborted")
		return
	}
	o.countOutcome("ok")
}

// finalizeError emits the final event for a request terminated by a backend
// fault or an internal invariant violation. Partial content is preserved
// and annotated rather than discarded. Idempotent like finalizeSuccess.
func (o *Orchestrator) finalizeError(ctx context.Context, st *loopState, events chan<- *StreamEvent, err error) {
	if st.finalized {
		return
	}
	st.finalized = true
	failedPhase := st.phase
	st.phase = PhaseFinalizing

	o.config.Logger.Error("agent loop failed",
		"phase", failedPhase, "iteration", st.iteration, "error",
		(&LoopError{Phase: failedPhase, Iteration: st.iteration, Cause: err}).Error())

	content := st.transcript.String()
	if content != "" {
		content += "\n\n" + interruptedNote
	} else {
		content = "Sorry, something went wrong while answering. Please try again."
	}

	if !o.emit(ctx, events, &StreamEvent{Type: EventFinal, Payload: &FinalPayload{
		Agent:       o.config.AgentName,
		Content:     content,
		NextActions: append([]string(nil), retryActions...),
	}}) {
		o.countOutcome("aborted")
		return
	}
	o.countOutcome("error")
}

// nextActions derives follow-up suggestions from what the conversation did.
func nextActions(st *loopState) []string {
	actions := make([]string, 0, 3)
	if st.toolsUsed["brain.search_items"] {
		actions = append(actions, "Ask for details about one of the results")
		actions = append(actions, "Refine the search with different terms or tags")
	}
	if st.toolsUsed["brain.create_item"] || st.toolsUsed["brain.ingest_note"] {
		actions = append(actions, "Search for the new item to confirm it was saved")
	}
	if st.toolsUsed["brain.update_item"] || st.toolsUsed["brain.score_item"] {
		actions = append(actions, "Review the updated item")
	}
	if len(actions) == 0 {
		actions = append(actions, "Ask a follow-up question")
		if strings.Contains(strings.ToLower(st.transcript.String()), "item") {
			actions = append(actions, "Search the knowledge base for related items")
		}
	}
	if len(actions) > 3 {
		actions = actions[:3]
	}
	return actions
}
