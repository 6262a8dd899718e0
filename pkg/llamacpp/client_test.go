package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, body string, captured *ChatCompletionRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSimpleQuery_StringContent(t *testing.T) {
	var req ChatCompletionRequest
	server := newTestServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"objects\":[]}"}}]}`, &req)

	c, err := NewClient(server.URL + "/")
	require.NoError(t, err)

	answer, err := c.SimpleQuery(context.Background(), "qwen-vl", "find objects", "aGk=")
	require.NoError(t, err)
	require.Equal(t, `{"objects":[]}`, answer)

	require.Equal(t, "qwen-vl", req.Model)
	parts := req.Messages[0].Content.([]interface{})
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	require.Equal(t, "data:image/jpeg;base64,aGk=", image["url"])
}

func TestTextQuery_ArrayContent(t *testing.T) {
	var req ChatCompletionRequest
	server := newTestServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"A warm lamp."}]}}]}`, &req)

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	answer, err := c.TextQuery(context.Background(), "m", "describe")
	require.NoError(t, err)
	require.Equal(t, "A warm lamp.", answer)
	require.Equal(t, "describe", req.Messages[0].Content)
}

func TestQuery_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "status", status: http.StatusInternalServerError, body: "boom"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "empty content", status: http.StatusOK, body: `{"choices":[{"message":{"content":""}}]}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, tc.status, tc.body, nil)
			c, err := NewClient(server.URL)
			require.NoError(t, err)

			_, err = c.TextQuery(context.Background(), "m", "x")
			require.Error(t, err)
		})
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", c.baseURL)

	_, err = NewClient("ftp://example.com")
	require.Error(t, err)
}
