package genie

import (
	"context"
	"fmt"
)

// Memory supplies correction context for the first turn of a new
// conversation and strips echoed context from answers. Implemented by
// feedback.Injector.
type Memory interface {
	ContextBlock() string
	Sanitize(text string) string
}

// State is the working identity of one conversation thread. It lives only
// for the session; it is never persisted.
type State struct {
	ConversationID string `json:"conversation_id,omitempty"`
	LastMessageID  string `json:"last_message_id,omitempty"`
	// FeedbackInjected records whether correction context was prepended on
	// the first turn, so the UI can report it to the user once.
	FeedbackInjected bool `json:"feedback_injected"`
}

// Started reports whether a remote conversation exists yet.
func (s State) Started() bool {
	return s.ConversationID != ""
}

// Session manages one multi-turn conversation against the remote service:
// start-vs-continue decisions, identity tracking, completion waiting, and
// payload normalization. Not safe for concurrent use; a session has one
// outstanding turn at a time.
type Session struct {
	conv    Conversations
	poller  *Poller
	memory  Memory
	spaceID string

	state State
}

// NewSession creates a session for the given space. memory may be nil, in
// which case no correction context is ever injected and answers pass
// through unsanitized.
func NewSession(conv Conversations, spaceID string, memory Memory) *Session {
	return &Session{
		conv:    conv,
		poller:  NewPoller(conv),
		memory:  memory,
		spaceID: spaceID,
	}
}

// State returns a copy of the current conversation identity.
func (s *Session) State() State {
	return s.state
}

// Reset clears the conversation identity unconditionally. Feedback memory
// and any caller-held transcript are untouched.
func (s *Session) Reset() {
	s.state = State{}
}

// Submit sends a question as the next turn, waits for the remote message
// to complete, and returns the normalized answer. On the first turn of a
// fresh conversation the stored corrections are appended to the outbound
// content; later turns send the question verbatim.
//
// If the start/continue call itself fails the conversation state is left
// unchanged, so a retry after fixing configuration is safe.
func (s *Session) Submit(ctx context.Context, question string) (Answer, error) {
	if !s.state.Started() {
		content := question
		injected := false
		if s.memory != nil {
			if block := s.memory.ContextBlock(); block != "" {
				content = question + block
				injected = true
			}
		}

		convID, msgID, err := s.conv.StartConversation(ctx, s.spaceID, content)
		if err != nil {
			return Answer{}, fmt.Errorf("starting conversation: %w", err)
		}
		s.state.ConversationID = convID
		s.state.LastMessageID = msgID
		s.state.FeedbackInjected = injected
	} else {
		msgID, err := s.conv.ContinueConversation(ctx, s.spaceID, s.state.ConversationID, question)
		if err != nil {
			return Answer{}, fmt.Errorf("continuing conversation: %w", err)
		}
		s.state.LastMessageID = msgID
	}

	msg, err := s.poller.AwaitCompletion(ctx, s.spaceID, s.state.ConversationID, s.state.LastMessageID)
	if err != nil {
		return Answer{}, err
	}

	answer := Extract(msg)
	// Echoes of injected context can surface in any later turn of the same
	// conversation, so every answer is sanitized.
	if s.memory != nil {
		answer.Text = s.memory.Sanitize(answer.Text)
	}
	return answer, nil
}
