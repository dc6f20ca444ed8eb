package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message status values reported by the conversational service. Anything
// not listed here as terminal is treated as still running.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
	StatusTimeout   = "TIMEOUT"
)

// Terminal reports whether a status ends the message lifecycle.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Message is one assistant turn as returned by the message endpoint.
type Message struct {
	ID          string        `json:"message_id"`
	Status      string        `json:"status"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments"`
	Error       *MessageError `json:"error,omitempty"`
}

// MessageError carries the remote-supplied failure detail.
type MessageError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"error"`
}

// Attachment is one structured sub-object within an answer payload. Only
// attachments carrying a Query are meaningful to the extractor; the rest
// are plain text echoes.
type Attachment struct {
	Text  *TextAttachment  `json:"text,omitempty"`
	Query *QueryAttachment `json:"query,omitempty"`
}

type TextAttachment struct {
	Content string `json:"content"`
}

// QueryAttachment carries generated SQL and, when the service executed it
// itself, an inline result set.
type QueryAttachment struct {
	Query       string       `json:"query"`
	Description string       `json:"description,omitempty"`
	Result      *QueryResult `json:"result,omitempty"`
}

// QueryResult is the inline tabular result in statement-API shape.
type QueryResult struct {
	Schema struct {
		Columns []struct {
			Name string `json:"name"`
		} `json:"columns"`
	} `json:"schema"`
	DataArray [][]string `json:"data_array"`
}

// Conversations is the surface of the remote conversational service the
// session and poller depend on. Implemented by Client; faked in tests.
type Conversations interface {
	StartConversation(ctx context.Context, spaceID, content string) (conversationID, messageID string, err error)
	ContinueConversation(ctx context.Context, spaceID, conversationID, content string) (messageID string, err error)
	GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (Message, error)
}

// Client talks to the Genie conversation API of a Databricks workspace.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for the given workspace host and access token.
func NewClient(host, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(host, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type contentRequest struct {
	Content string `json:"content"`
}

type startResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// StartConversation opens a new conversation in the space with the given
// first-turn content and returns the identifiers the service assigned.
func (c *Client) StartConversation(ctx context.Context, spaceID, content string) (string, string, error) {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/start-conversation", spaceID)
	var out startResponse
	if err := c.post(ctx, path, contentRequest{Content: content}, &out); err != nil {
		return "", "", fmt.Errorf("starting conversation: %w", err)
	}
	return out.ConversationID, out.MessageID, nil
}

// ContinueConversation appends a new user turn to an existing conversation.
func (c *Client) ContinueConversation(ctx context.Context, spaceID, conversationID, content string) (string, error) {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages", spaceID, conversationID)
	var out startResponse
	if err := c.post(ctx, path, contentRequest{Content: content}, &out); err != nil {
		return "", fmt.Errorf("continuing conversation: %w", err)
	}
	return out.MessageID, nil
}

// GetMessage fetches the current state of a message, including its status
// and any attachments produced so far.
func (c *Client) GetMessage(ctx context.Context, spaceID, conversationID, messageID string) (Message, error) {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages/%s", spaceID, conversationID, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Message{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("fetching message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Message{}, c.statusError(resp)
	}

	var m Message
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError turns a non-200 response into an actionable error. Space
// lookup and auth failures get remediation text since they are the two
// misconfigurations users actually hit.
func (c *Client) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("space not found (404): check the configured space id against the Genie space URL in your workspace")
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed (%d): check the workspace host and access token", resp.StatusCode)
	}
	if len(detail) > 0 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
