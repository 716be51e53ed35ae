// Package gateway is the HTTP/websocket client for the backend messaging
// gateway. It owns the wire contract; domain conversion happens at the edge
// via the ToModel helpers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the backend messaging gateway REST API.
type Client struct {
	baseURL string
	token   string
	logger  *slog.Logger
	http    *http.Client
}

// NewClient creates a gateway client. The token is attached as a bearer
// credential on every request.
func NewClient(log *slog.Logger, baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("gateway client: base url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  log.With(slog.String("client", "gateway")),
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ListConversations fetches the full conversation summary list.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/inbox/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages fetches the transcript of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var out []Message
	path := "/api/inbox/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts one outbound message as multipart form data.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendRequest) (Message, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("text", req.Text); err != nil {
		return Message{}, fmt.Errorf("write text field: %w", err)
	}
	if err := writer.WriteField("isInternalNote", strconv.FormatBool(req.IsInternalNote)); err != nil {
		return Message{}, fmt.Errorf("write note field: %w", err)
	}
	for _, file := range req.Files {
		part, err := writer.CreateFormFile("files[]", file.Name)
		if err != nil {
			return Message{}, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return Message{}, fmt.Errorf("write file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Message{}, fmt.Errorf("close multipart writer: %w", err)
	}

	path := "/api/inbox/conversations/" + url.PathEscape(conversationID) + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return Message{}, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var out Message
	if err := c.send(httpReq, &out); err != nil {
		return Message{}, err
	}
	return out, nil
}

// CreateConversation starts a new thread and sends its first message.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (Conversation, error) {
	var out Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/inbox/conversations", req, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

// UpdateConversation patches conversation metadata or status.
func (c *Client) UpdateConversation(ctx context.Context, conversationID string, req UpdateConversationRequest) (Conversation, error) {
	var out Conversation
	path := "/api/inbox/conversations/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodPatch, path, req, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

// DeleteConversation permanently removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/api/inbox/conversations/" + url.PathEscape(conversationID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// AcceptConversation requests the waiting -> open transition.
func (c *Client) AcceptConversation(ctx context.Context, conversationID string) error {
	path := "/api/inbox/conversations/" + url.PathEscape(conversationID) + "/accept"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// SendTyping broadcasts the agent's composing state for a live chat.
func (c *Client) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	body := map[string]any{
		"conversationId": conversationID,
		"isTyping":       isTyping,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/inbox/live-chat/typing", body, nil)
}

// TypingPreview polls the server-held preview buffer of a conversation.
func (c *Client) TypingPreview(ctx context.Context, conversationID string) (TypingPreview, error) {
	var out TypingPreview
	path := "/api/inbox/live-chat/preview/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return TypingPreview{}, err
	}
	return out, nil
}

// LiveVisitors fetches the ephemeral widget presence list.
func (c *Client) LiveVisitors(ctx context.Context) ([]LiveVisitor, error) {
	var out []LiveVisitor
	if err := c.doJSON(ctx, http.MethodGet, "/api/live-visitors", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return apiErr
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else if body.Error != "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
