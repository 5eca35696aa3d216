package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestZammadCreateTicket(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/tickets", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42}`))
	}))
	defer server.Close()

	client := NewZammadClient(server.URL, "secret-token", zap.NewNop())
	assert.True(t, client.Enabled())

	ticketID, err := client.CreateTicket(context.Background(), map[string]interface{}{
		"title": "NOTFALLALARM – Herr Meier – Zimmer 12",
		"group": "Notfallstelle",
	})
	require.NoError(t, err)
	assert.Equal(t, 42, ticketID)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "Notfallstelle", gotPayload["group"])
}

func TestZammadCreateTicket_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewZammadClient(server.URL, "secret-token", zap.NewNop())
	_, err := client.CreateTicket(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestZammadAddInternalNote(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewZammadClient(server.URL, "secret-token", zap.NewNop())
	err := client.AddInternalNote(context.Background(), 42, "Alarm quittiert", "ACK durch: Anna")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/tickets/42", gotPath)

	article := gotPayload["article"].(map[string]interface{})
	assert.Equal(t, "Alarm quittiert", article["subject"])
	assert.Equal(t, true, article["internal"])
}

func TestZammadDisabled(t *testing.T) {
	client := NewZammadClient("", "", zap.NewNop())
	assert.False(t, client.Enabled())

	_, err := client.CreateTicket(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestSendXMS(t *testing.T) {
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewSendXMSClient(server.URL, "api-key", "Notfall", "/send", true, zap.NewNop())
	require.True(t, client.Enabled())

	err := client.SendSMS(context.Background(), "+4915100000000", "NOTFALLALARM (silent)")
	require.NoError(t, err)
	assert.Equal(t, "+4915100000000", gotPayload["to"])
	assert.Equal(t, "Notfall", gotPayload["from"])
}

func TestSendXMS_DisabledIsSilent(t *testing.T) {
	client := NewSendXMSClient("", "", "Notfall", "/send", false, zap.NewNop())
	assert.False(t, client.Enabled())
	assert.NoError(t, client.SendSMS(context.Background(), "+49151", "msg"))
}

func TestSignalSendGroupMessage(t *testing.T) {
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewSignalClient(server.URL, "group.default", "/v2/send", true, zap.NewNop())

	// 空 groupID 回退到默认群
	require.NoError(t, client.SendGroupMessage(context.Background(), "alarm text", ""))
	assert.Equal(t, "group.default", gotPayload["groupId"])
	assert.Equal(t, "alarm text", gotPayload["message"])

	require.NoError(t, client.SendGroupMessage(context.Background(), "alarm text", "group.special"))
	assert.Equal(t, "group.special", gotPayload["groupId"])
}

func TestWebhookPost(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewWebhookClient(zap.NewNop())
	err := client.Post(context.Background(), server.URL+"/alarm", map[string]interface{}{"alarm_id": "alarm-1"})
	require.NoError(t, err)
	assert.Equal(t, "alarm-1", gotBody["alarm_id"])
}

func TestWebhookPost_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewWebhookClient(zap.NewNop())
	assert.Error(t, client.Post(context.Background(), server.URL, map[string]string{}))
}
