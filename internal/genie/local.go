package genie

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"holdbusters/internal/ollama"
)

// localSystemPrompt teaches the model the invoice schema and the answer
// format the extractor understands. SQL must come back in a fenced block.
const localSystemPrompt = `You are a data analyst for an invoice operations team.
Answer questions by writing a single SQLite SELECT statement against this schema:

invoices(Invoice_Id, Invoice_Name, Vendor__Name, Invoice_Date__c, Total_Amount__c, sitetracker__Status__c, Days_Pending_Approval__c, Integration_Status__c, Reason__c, State__c, Approval_Date__c)
invoice_lines(Invoice_Line_Id, Invoice_Id, Project_Id, Invoice_Amount__c, Invoice_Status__c, Cost_Category_Name__c, sitetracker__Quantity__c, sitetracker__Unit_Price__c)
projects(Project_Id, Infinium_Project_Number__c, Company__c, Infinium_Status__c, Approval_Status__c)

invoice_lines.Invoice_Id references invoices.Invoice_Id and
invoice_lines.Project_Id references projects.Project_Id.
Status values are: Draft, Submitted, Approved, Paid, Hold.
Invoices on hold have sitetracker__Status__c = 'Hold' and a Reason__c.

Reply with a short explanation followed by the query in a fenced block:

` + "```sql\nSELECT ...\n```"

// chatter is the slice of the Ollama client the assistant needs.
type chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, error)
}

// maxLocalHistory bounds the chat transcript sent with each turn, counted
// in messages (a user/assistant exchange is two).
const maxLocalHistory = 20

// localChatTimeout bounds a single model generation.
const localChatTimeout = 2 * time.Minute

// LocalAssistant answers questions with a local Ollama model while
// presenting the same asynchronous conversation surface as the remote
// service: starting a turn returns immediately and the answer is picked
// up by polling GetMessage.
type LocalAssistant struct {
	chat   chatter
	model  string
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*localConversation
}

type localConversation struct {
	history  []ollama.Message
	messages map[string]*Message
}

// NewLocalAssistant creates an assistant backed by the given Ollama client
// and model name.
func NewLocalAssistant(client *ollama.Client, model string, logger *slog.Logger) *LocalAssistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalAssistant{
		chat:          client,
		model:         model,
		logger:        logger,
		conversations: make(map[string]*localConversation),
	}
}

// StartConversation opens a fresh conversation and kicks off generation of
// the first answer in the background.
func (a *LocalAssistant) StartConversation(ctx context.Context, spaceID, content string) (string, string, error) {
	conversationID := uuid.NewString()
	messageID := uuid.NewString()

	a.mu.Lock()
	conv := &localConversation{messages: make(map[string]*Message)}
	a.conversations[conversationID] = conv
	a.beginTurn(conv, messageID, content)
	a.mu.Unlock()

	go a.generate(conversationID, messageID, content)
	return conversationID, messageID, nil
}

// ContinueConversation appends a user turn to an existing conversation and
// kicks off generation of its answer in the background.
func (a *LocalAssistant) ContinueConversation(ctx context.Context, spaceID, conversationID, content string) (string, error) {
	messageID := uuid.NewString()

	a.mu.Lock()
	conv, ok := a.conversations[conversationID]
	if !ok {
		a.mu.Unlock()
		return "", fmt.Errorf("unknown conversation %s", conversationID)
	}
	a.beginTurn(conv, messageID, content)
	a.mu.Unlock()

	go a.generate(conversationID, messageID, content)
	return messageID, nil
}

// GetMessage reports the current state of a turn. While the model is still
// generating, the status stays non-terminal.
func (a *LocalAssistant) GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	conv, ok := a.conversations[conversationID]
	if !ok {
		return Message{}, fmt.Errorf("unknown conversation %s", conversationID)
	}
	m, ok := conv.messages[messageID]
	if !ok {
		return Message{}, fmt.Errorf("unknown message %s", messageID)
	}
	return *m, nil
}

// beginTurn records the pending message and the user turn. Caller holds mu.
func (a *LocalAssistant) beginTurn(conv *localConversation, messageID, content string) {
	conv.messages[messageID] = &Message{ID: messageID, Status: "RUNNING"}
	conv.history = append(conv.history, ollama.Message{Role: "user", Content: content})
	if len(conv.history) > maxLocalHistory {
		conv.history = conv.history[len(conv.history)-maxLocalHistory:]
	}
}

// generate runs the model and resolves the pending message. It uses its
// own deadline rather than the caller's context because the caller returns
// before generation finishes.
func (a *LocalAssistant) generate(conversationID, messageID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), localChatTimeout)
	defer cancel()

	a.mu.Lock()
	conv := a.conversations[conversationID]
	prompt := make([]ollama.Message, 0, len(conv.history)+1)
	prompt = append(prompt, ollama.Message{Role: "system", Content: localSystemPrompt})
	prompt = append(prompt, conv.history...)
	a.mu.Unlock()

	reply, err := a.chat.Chat(ctx, a.model, prompt)

	a.mu.Lock()
	defer a.mu.Unlock()

	m := conv.messages[messageID]
	if err != nil {
		a.logger.Warn("local assistant chat failed", "error", err)
		m.Status = StatusFailed
		m.Error = &MessageError{Message: err.Error()}
		return
	}

	conv.history = append(conv.history, ollama.Message{Role: "assistant", Content: reply})

	m.Status = StatusCompleted
	m.Content = reply
	if sql := extractLocalSQL(reply); sql != "" {
		m.Content = strings.TrimSpace(stripSQLBlocks(reply))
		m.Attachments = []Attachment{{Query: &QueryAttachment{Query: sql}}}
	}
}

var (
	sqlFenceRe  = regexp.MustCompile("(?s)```sql\\s*(.*?)```")
	selectRe    = regexp.MustCompile(`(?is)\bSELECT\b.*?(?:;|\z)`)
	anyFenceRe  = regexp.MustCompile("(?s)```.*?```")
	trailingSem = regexp.MustCompile(`;\s*\z`)
)

// extractLocalSQL pulls the query out of a model reply. A fenced sql block
// wins; otherwise the first SELECT statement in the text is taken.
func extractLocalSQL(reply string) string {
	if m := sqlFenceRe.FindStringSubmatch(reply); m != nil {
		return trailingSem.ReplaceAllString(strings.TrimSpace(m[1]), "")
	}
	if m := selectRe.FindString(reply); m != "" {
		return trailingSem.ReplaceAllString(strings.TrimSpace(m), "")
	}
	return ""
}

// stripSQLBlocks removes fenced code from a reply so the prose reads
// cleanly next to the separately rendered query.
func stripSQLBlocks(reply string) string {
	return anyFenceRe.ReplaceAllString(reply, "")
}
