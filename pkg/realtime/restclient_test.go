package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectchat/pkg/types"
)

func TestRESTClient_CreateAndList(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/projects/P1/messages":
			var req types.CreateMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": types.Message{ID: "m1", Content: req.Content, Type: req.Type, ProjectID: "P1"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/projects/P1/messages":
			gotQuery = r.URL.RawQuery
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"messages": []types.Message{{ID: "m0"}, {ID: "m1"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewRESTClient(srv.URL+"/api/v1/", "tok", nil)
	require.NoError(t, err)

	msg, err := client.CreateMessage(context.Background(), "P1", types.CreateMessageRequest{Content: "hi", Type: "text"})
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "Bearer tok", gotAuth)

	history, err := client.ListMessages(context.Background(), "P1", 25)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "limit=25", gotQuery)
}

func TestRESTClient_ErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Forbidden", "code": 403, "message": "not a project member",
		})
	}))
	defer srv.Close()

	client, err := NewRESTClient(srv.URL+"/api/v1", "tok", nil)
	require.NoError(t, err)

	_, err = client.CreateMessage(context.Background(), "P1", types.CreateMessageRequest{Content: "hi"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "not a project member", apiErr.Message)
	assert.Contains(t, err.Error(), "403")

	srv.Close()
	_, err = client.ListMessages(context.Background(), "P1", 0)
	assert.Error(t, err)

	_, err = NewRESTClient("not a url", "tok", nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}
