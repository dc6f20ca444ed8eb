package genie

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// scriptedConv returns canned messages (or errors) in order from GetMessage
// and records the calls made against it.
type scriptedConv struct {
	startConvID string
	startMsgID  string
	startErr    error

	continueMsgID string
	continueErr   error

	polls     []pollResult
	pollCount int

	startCalls    []string
	continueCalls []string
}

type pollResult struct {
	msg Message
	err error
}

func (c *scriptedConv) StartConversation(ctx context.Context, spaceID, content string) (string, string, error) {
	c.startCalls = append(c.startCalls, content)
	if c.startErr != nil {
		return "", "", c.startErr
	}
	return c.startConvID, c.startMsgID, nil
}

func (c *scriptedConv) ContinueConversation(ctx context.Context, spaceID, conversationID, content string) (string, error) {
	c.continueCalls = append(c.continueCalls, content)
	if c.continueErr != nil {
		return "", c.continueErr
	}
	return c.continueMsgID, nil
}

func (c *scriptedConv) GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (Message, error) {
	if c.pollCount >= len(c.polls) {
		// Keep returning the last scripted result.
		last := c.polls[len(c.polls)-1]
		c.pollCount++
		return last.msg, last.err
	}
	r := c.polls[c.pollCount]
	c.pollCount++
	return r.msg, r.err
}

// testPoller wires a poller with an instant sleep so tests run fast.
func testPoller(conv Conversations) *Poller {
	p := NewPoller(conv)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func running() pollResult {
	return pollResult{msg: Message{Status: "RUNNING"}}
}

func TestAwaitCompletion_CompletesAfterKPolls(t *testing.T) {
	const k = 3
	conv := &scriptedConv{}
	for i := 0; i < k; i++ {
		conv.polls = append(conv.polls, running())
	}
	conv.polls = append(conv.polls, pollResult{msg: Message{Status: StatusCompleted, Content: "done"}})

	p := testPoller(conv)
	msg, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if msg.Content != "done" {
		t.Errorf("content = %q", msg.Content)
	}
	if conv.pollCount != k+1 {
		t.Errorf("polled %d times, want %d", conv.pollCount, k+1)
	}
}

func TestAwaitCompletion_ImmediateCompletion(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{{msg: Message{Status: StatusCompleted}}}}

	p := testPoller(conv)
	if _, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg"); err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if conv.pollCount != 1 {
		t.Errorf("polled %d times, want 1", conv.pollCount)
	}
}

func TestAwaitCompletion_BudgetExhausted(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{running()}}

	p := testPoller(conv)
	_, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
	if !errors.Is(err, ErrWaitBudgetExceeded) {
		t.Fatalf("err = %v, want ErrWaitBudgetExceeded", err)
	}
	if conv.pollCount != defaultMaxAttempts {
		t.Errorf("polled %d times, want %d", conv.pollCount, defaultMaxAttempts)
	}
	// The local timeout must not read like the remote TIMEOUT status.
	if strings.Contains(err.Error(), "timed out on the service side") {
		t.Errorf("local budget error uses remote timeout wording: %v", err)
	}
}

func TestAwaitCompletion_RemoteFailure(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{
		running(),
		{msg: Message{
			Status: StatusFailed,
			Error:  &MessageError{Message: "syntax error near FROM"},
		}},
	}}

	p := testPoller(conv)
	_, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
	if err == nil {
		t.Fatal("expected error for FAILED status")
	}
	// Remote detail must survive verbatim.
	if !strings.Contains(err.Error(), "syntax error near FROM") {
		t.Errorf("remote detail lost: %v", err)
	}
}

func TestAwaitCompletion_RemoteFailureWithoutDetail(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{{msg: Message{Status: StatusFailed}}}}

	p := testPoller(conv)
	_, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
	if err == nil || !strings.Contains(err.Error(), "query failed") {
		t.Errorf("err = %v, want generic query failed", err)
	}
}

func TestAwaitCompletion_TerminalStatuses(t *testing.T) {
	tests := []struct {
		status   string
		wantText string
	}{
		{StatusCancelled, "cancelled by the service"},
		{StatusTimeout, "timed out on the service side"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			conv := &scriptedConv{polls: []pollResult{{msg: Message{Status: tt.status}}}}
			p := testPoller(conv)
			_, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
			if err == nil || !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("err = %v, want %q", err, tt.wantText)
			}
		})
	}
}

func TestAwaitCompletion_TransientErrorsConsumeAttempts(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{
		{err: fmt.Errorf("connection reset")},
		{err: fmt.Errorf("connection reset")},
		{msg: Message{Status: StatusCompleted, Content: "recovered"}},
	}}

	p := testPoller(conv)
	msg, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if msg.Content != "recovered" {
		t.Errorf("content = %q", msg.Content)
	}
	if conv.pollCount != 3 {
		t.Errorf("polled %d times, want 3", conv.pollCount)
	}
}

func TestAwaitCompletion_PersistentErrorsExhaustBudget(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{{err: fmt.Errorf("connection reset")}}}

	p := testPoller(conv)
	_, err := p.AwaitCompletion(context.Background(), "sp", "conv", "msg")
	if !errors.Is(err, ErrWaitBudgetExceeded) {
		t.Fatalf("err = %v, want ErrWaitBudgetExceeded", err)
	}
}

func TestAwaitCompletion_ContextCancelled(t *testing.T) {
	conv := &scriptedConv{polls: []pollResult{running()}}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(conv)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := p.AwaitCompletion(ctx, "sp", "conv", "msg")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAwaitCompletion_CancelledDuringFailedPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conv := &scriptedConv{polls: []pollResult{{err: fmt.Errorf("boom")}}}

	p := NewPoller(conv)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	cancel()

	_, err := p.AwaitCompletion(ctx, "sp", "conv", "msg")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
