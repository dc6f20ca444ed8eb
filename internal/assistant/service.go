package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"holdbusters/internal/feedback"
	"holdbusters/internal/genie"
	"holdbusters/internal/warehouse"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a session transcript. Turns are append-only and
// only appended once fully resolved, so a renderer never observes an
// assistant turn with partially populated SQL/result fields.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	SQL     string `json:"sql,omitempty"`
	// Result came inline from the conversational service's own execution.
	Result *warehouse.Table `json:"result,omitempty"`
	// ExecutedResult came from the fallback local execution of SQL the
	// service returned without running.
	ExecutedResult *warehouse.Table `json:"executed_result,omitempty"`
	// IsFeedback marks correction turns as opposed to organic questions.
	IsFeedback bool `json:"is_feedback,omitempty"`
}

// querySession is the conversational surface the service drives.
// Implemented by genie.Session; faked in tests.
type querySession interface {
	Submit(ctx context.Context, question string) (genie.Answer, error)
	Reset()
	State() genie.State
}

// Service ties one conversation session to the shared correction store
// and the warehouse fallback executor, and owns the ordered transcript.
//
// A service is effectively single-threaded: one question blocks until its
// answer resolves. The mutex serializes callers that ignore that.
type Service struct {
	mu       sync.Mutex
	session  querySession
	store    *feedback.Store
	executor warehouse.Executor // optional; nil disables fallback execution

	turns []Turn
}

// New creates a Service. executor may be nil.
func New(session querySession, store *feedback.Store, executor warehouse.Executor) *Service {
	return &Service{session: session, store: store, executor: executor}
}

// State returns the current conversation identity.
func (s *Service) State() genie.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State()
}

// History returns a copy of the transcript in conversation order.
func (s *Service) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Reset starts a fresh conversation: conversation identity and transcript
// are cleared, stored corrections are kept.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Reset()
	s.turns = nil
}

// Ask submits an organic question and blocks until the answer resolves.
// The user turn is recorded even when the answer fails; the assistant
// turn is appended only on success.
func (s *Service) Ask(ctx context.Context, question string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ask(ctx, question, false)
}

func (s *Service) ask(ctx context.Context, question string, isFeedback bool) (Turn, error) {
	s.turns = append(s.turns, Turn{Role: RoleUser, Content: question, IsFeedback: isFeedback})

	answer, err := s.session.Submit(ctx, question)
	if err != nil {
		return Turn{}, err
	}

	turn := Turn{
		Role:       RoleAssistant,
		Content:    answer.Text,
		SQL:        answer.SQL,
		Result:     answer.Result,
		IsFeedback: isFeedback,
	}

	// The service sometimes returns SQL without running it; execute it
	// through the warehouse so the caller still gets rows.
	if turn.SQL != "" && turn.Result == nil && s.executor != nil {
		table, execErr := s.executor.Execute(ctx, turn.SQL)
		switch {
		case execErr != nil:
			slog.Warn("fallback query execution failed", "error", execErr)
			turn.Content += fmt.Sprintf("\n\nQuery execution error: %v", execErr)
		case !table.Empty():
			turn.ExecutedResult = &table
			turn.Content += fmt.Sprintf("\n\nFound %d results.", len(table.Rows))
		}
	}

	s.turns = append(s.turns, turn)
	return turn, nil
}

// SubmitCorrection persists feedbackText against the most recent organic
// question/answer pair, then sends the correction back into the
// conversation as a feedback turn so the service can retry. The persisted
// flag is false when the correction could not be written to the shared
// store; the retry turn is still sent, the correction just won't outlive
// this session.
func (s *Service) SubmitCorrection(ctx context.Context, feedbackText string) (Turn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	question, priorAnswer := s.lastExchange()

	persisted := true
	if _, err := s.store.Append(feedbackText, question, priorAnswer); err != nil {
		slog.Warn("feedback not persisted", "error", err)
		persisted = false
	}

	retry := fmt.Sprintf("That answer wasn't quite right. %s. Can you try again?", feedbackText)
	turn, err := s.ask(ctx, retry, true)
	return turn, persisted, err
}

// lastExchange walks the transcript backwards for the most recent organic
// question and the assistant answer it produced.
func (s *Service) lastExchange() (question, answer string) {
	question = "Unknown question"
	for i := len(s.turns) - 1; i >= 0; i-- {
		t := s.turns[i]
		if answer == "" && t.Role == RoleAssistant {
			answer = t.Content
		}
		if t.Role == RoleUser && !t.IsFeedback {
			question = t.Content
			break
		}
	}
	return question, answer
}
