package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantheonhq/pantheon/internal/notify"
)

func TestHTTPProviderSend(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]interface{}
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(HTTPProviderConfig{
		BaseURL:   srv.URL,
		APIKey:    "sg-key",
		FromEmail: "noreply@corp.test",
		FromName:  "Pantheon",
	})

	msg := notify.Message{
		To:      "ada@personal.test",
		Subject: "Your new workspace account",
		Body:    "Temporary password inside",
	}
	require.NoError(t, provider.Send(context.Background(), msg))

	assert.Equal(t, "Bearer sg-key", gotAuth)
	assert.Equal(t, "Your new workspace account", gotBody["subject"])

	from, ok := gotBody["from"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "noreply@corp.test", from["email"])
}

func TestHTTPProviderSendRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad api key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, APIKey: "wrong"})

	err := provider.Send(context.Background(), notify.Message{To: "ada@personal.test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad api key")
}
