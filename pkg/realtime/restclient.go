package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"projectchat/pkg/types"
)

// MessageAPI is the REST side of the message channel.
type MessageAPI interface {
	CreateMessage(ctx context.Context, projectID string, req types.CreateMessageRequest) (*types.Message, error)
	ListMessages(ctx context.Context, projectID string, limit int) ([]*types.Message, error)
}

// APIError is a non-2xx REST response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// RESTClient talks to the project message endpoints under an API URL such
// as http://host/api/v1.
type RESTClient struct {
	apiURL string
	token  string
	client *http.Client
}

// NewRESTClient builds a client for apiURL authenticated with token.
func NewRESTClient(apiURL, token string, client *http.Client) (*RESTClient, error) {
	if _, err := parseHTTPURL(apiURL); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTClient{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		token:  token,
		client: client,
	}, nil
}

type messageEnvelope struct {
	Message *types.Message `json:"message"`
}

type historyEnvelope struct {
	Messages []*types.Message `json:"messages"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateMessage posts a message and returns it as persisted by the server.
func (c *RESTClient) CreateMessage(ctx context.Context, projectID string, req types.CreateMessageRequest) (*types.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out messageEnvelope
	if err := c.do(ctx, http.MethodPost, c.messagesURL(projectID, 0), body, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, fmt.Errorf("create message: empty response")
	}
	return out.Message, nil
}

// ListMessages fetches the most recent messages, oldest first. A limit of
// zero lets the server pick.
func (c *RESTClient) ListMessages(ctx context.Context, projectID string, limit int) ([]*types.Message, error) {
	var out historyEnvelope
	if err := c.do(ctx, http.MethodGet, c.messagesURL(projectID, limit), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *RESTClient) messagesURL(projectID string, limit int) string {
	u := c.apiURL + "/projects/" + url.PathEscape(projectID) + "/messages"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	return u
}

func (c *RESTClient) do(ctx context.Context, method, target string, body []byte, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", target, err)
	}
	return nil
}
