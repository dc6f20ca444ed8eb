package genie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 120
)

// ErrWaitBudgetExceeded marks the locally declared timeout: the poll
// budget ran out without the remote message reaching a terminal status.
// Distinct from the remote TIMEOUT status.
var ErrWaitBudgetExceeded = errors.New("gave up waiting for completion")

// Poller drives a remote message to a terminal status by polling at a
// fixed interval with a hard attempt cap. The cap bounds worst-case
// latency per question; a genuinely slow query can simply be resubmitted.
type Poller struct {
	conv        Conversations
	interval    time.Duration
	maxAttempts int

	// sleep is replaceable in tests; it must honor ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller with the production budget: 1-second
// interval, 120 attempts (~2 minutes).
func NewPoller(conv Conversations) *Poller {
	return &Poller{
		conv:        conv,
		interval:    defaultPollInterval,
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AwaitCompletion polls the message until it reaches a terminal status or
// the attempt budget is exhausted. Transient poll failures (network blips)
// consume an attempt and the loop continues; they never terminate the wait
// on their own.
func (p *Poller) AwaitCompletion(ctx context.Context, spaceID, conversationID, messageID string) (Message, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		msg, err := p.conv.GetMessage(ctx, spaceID, conversationID, messageID)
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			slog.Debug("message poll failed, retrying", "attempt", attempt, "error", err)
			if serr := p.sleep(ctx, p.interval); serr != nil {
				return Message{}, serr
			}
			continue
		}

		switch msg.Status {
		case StatusCompleted:
			return msg, nil
		case StatusFailed:
			if msg.Error != nil && msg.Error.Message != "" {
				return Message{}, fmt.Errorf("query failed: %s", msg.Error.Message)
			}
			return Message{}, fmt.Errorf("query failed")
		case StatusCancelled:
			return Message{}, fmt.Errorf("request cancelled by the service")
		case StatusTimeout:
			return Message{}, fmt.Errorf("request timed out on the service side")
		}

		// Still processing.
		if serr := p.sleep(ctx, p.interval); serr != nil {
			return Message{}, serr
		}
	}

	budget := time.Duration(p.maxAttempts) * p.interval
	return Message{}, fmt.Errorf("%w after %s: the question may need extensive analysis, "+
		"the network may be flaky, or the space may still be initializing; "+
		"try a simpler question or resubmit in a moment", ErrWaitBudgetExceeded, budget)
}
