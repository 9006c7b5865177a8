package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHuntQL_LLM_Ollama_Invoke(t *testing.T) {
	t.Parallel()

	t.Run("sends temperature and accumulates chunks", func(t *testing.T) {
		t.Parallel()

		var got ollamaChatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/chat", r.URL.Path)
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"PassiveDNS "}}` + "\n"))
			_, _ = w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"| take 10"},"done":true,"done_reason":"stop"}` + "\n"))
		}))
		defer srv.Close()

		c, err := NewOllama(OllamaConfig{Logger: logger, BaseURL: srv.URL + "/", Model: "llama3.1"})
		require.NoError(t, err)

		resp, err := c.Invoke(t.Context(), []Message{
			SystemMessage("You write KQL."),
			UserMessage("find dns for 1.2.3.4"),
		}, 0.2)
		require.NoError(t, err)
		require.Equal(t, "PassiveDNS | take 10", resp.Text)
		require.Nil(t, resp.Parts)
		require.Equal(t, "stop", resp.StopReason)

		require.Equal(t, "llama3.1", got.Model)
		require.False(t, got.Stream)
		require.Len(t, got.Messages, 2)
		require.Equal(t, "system", got.Messages[0].Role)
		require.Equal(t, "user", got.Messages[1].Role)
		require.InDelta(t, 0.2, got.Options["temperature"], 1e-9)
		require.InDelta(t, float64(DefaultMaxTokens), got.Options["num_predict"], 1e-9)
	})

	t.Run("non-2xx is a status error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		c, err := NewOllama(OllamaConfig{Logger: logger, BaseURL: srv.URL, Model: "missing"})
		require.NoError(t, err)

		_, err = c.Invoke(t.Context(), []Message{UserMessage("q")}, 0)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
		require.False(t, statusErr.Temporary())
	})

	t.Run("error chunk", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":"out of memory"}` + "\n"))
		}))
		defer srv.Close()

		c, err := NewOllama(OllamaConfig{Logger: logger, BaseURL: srv.URL, Model: "llama3.1"})
		require.NoError(t, err)

		_, err = c.Invoke(t.Context(), []Message{UserMessage("q")}, 0)
		require.ErrorContains(t, err, "ollama error: out of memory")
	})

	t.Run("malformed chunk", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json\n"))
		}))
		defer srv.Close()

		c, err := NewOllama(OllamaConfig{Logger: logger, BaseURL: srv.URL, Model: "llama3.1"})
		require.NoError(t, err)

		_, err = c.Invoke(t.Context(), []Message{UserMessage("q")}, 0)
		require.ErrorContains(t, err, "stream decode")
	})
}

func TestHuntQL_LLM_Ollama_Config(t *testing.T) {
	t.Parallel()

	_, err := NewOllama(OllamaConfig{Model: "x"})
	require.ErrorIs(t, err, ErrLoggerRequired)

	_, err = NewOllama(OllamaConfig{Logger: logger})
	require.ErrorIs(t, err, ErrModelRequired)

	c, err := NewOllama(OllamaConfig{Logger: logger, Model: "x"})
	require.NoError(t, err)
	require.Equal(t, DefaultOllamaURL, c.cfg.BaseURL)
	require.NotNil(t, c.cfg.HTTPClient)
}
