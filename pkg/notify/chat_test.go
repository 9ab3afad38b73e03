package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/cloudcost/pkg/config"
)

func TestChatSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewChatChannel(config.ChatConfig{Enabled: true, WebhookURL: srv.URL}, srv.Client())
	require.True(t, ch.Enabled())
	require.NoError(t, ch.Send(context.Background(), testNotice()))
	assert.Equal(t, testNotice().Text(), got["text"])
}

func TestChatSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewChatChannel(config.ChatConfig{Enabled: true, WebhookURL: srv.URL}, nil)
	err := ch.Send(context.Background(), testNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestChatEnabled(t *testing.T) {
	assert.False(t, NewChatChannel(config.ChatConfig{Enabled: true}, nil).Enabled())
	assert.False(t, NewChatChannel(config.ChatConfig{WebhookURL: "http://example.com"}, nil).Enabled())
}

func TestChatThroughDispatcher(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.Default().Notify
	cfg.Chat = config.ChatConfig{Enabled: true, WebhookURL: srv.URL}
	res := NewDispatcher(cfg, nil).Dispatch(context.Background(), testNotice())
	assert.False(t, res.EmailSent)
	assert.True(t, res.ChatSent)
	assert.Equal(t, 1, calls)
}
