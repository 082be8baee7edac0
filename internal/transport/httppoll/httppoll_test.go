package httppoll

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openagents/network/internal/clock"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, authToken string) (*Transport, *httptest.Server) {
	t.Helper()
	topo := topology.New(time.Minute)
	pipeline := modpipeline.New(nil)
	r := router.New(topo, pipeline, nil, clock.System{}, clock.UUIDGenerator{}, nil, nil)
	tr := New(Config{AuthToken: authToken}, r, topo, pipeline, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", tr.handleRegister)
	mux.HandleFunc("/api/unregister", tr.handleUnregister)
	mux.HandleFunc("/api/send_event", tr.handleSendEvent)
	mux.HandleFunc("/api/poll", tr.handlePoll)
	mux.HandleFunc("/api/health", tr.handleHealth)
	srv := httptest.NewServer(tr.withMiddleware(mux))
	t.Cleanup(srv.Close)
	return tr, srv
}

func postJSON(t *testing.T, url string, body any, token string) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRegisterAndSendAndPoll(t *testing.T) {
	_, srv := newTestTransport(t, "")

	resp := postJSON(t, srv.URL+"/api/register", registerRequest{AgentID: "bob"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/send_event", event.Event{
		EventName:     "agent.message",
		SourceID:      "alice",
		DestinationID: "agent:bob",
	}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	pollResp, err := http.Get(srv.URL + "/api/poll?agent_id=bob&wait_ms=0")
	require.NoError(t, err)
	defer pollResp.Body.Close()
	var body struct {
		Success  bool          `json:"success"`
		Messages []event.Event `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(pollResp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "agent.message", body.Messages[0].EventName)
}

func TestPollBusyOnConcurrentWaiter(t *testing.T) {
	_, srv := newTestTransport(t, "")
	resp := postJSON(t, srv.URL+"/api/register", registerRequest{AgentID: "bob"}, "")
	resp.Body.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := http.Get(srv.URL + "/api/poll?agent_id=bob&wait_ms=200")
		require.NoError(t, err)
		r.Body.Close()
	}()
	time.Sleep(20 * time.Millisecond)

	pollResp, err := http.Get(srv.URL + "/api/poll?agent_id=bob&wait_ms=0")
	require.NoError(t, err)
	defer pollResp.Body.Close()
	assert.Equal(t, http.StatusConflict, pollResp.StatusCode)
	<-done
}

func TestPollUnknownAgent(t *testing.T) {
	_, srv := newTestTransport(t, "")
	resp, err := http.Get(srv.URL + "/api/poll?agent_id=ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthRequiredExceptHealth(t *testing.T) {
	_, srv := newTestTransport(t, "secret")

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/register", registerRequest{AgentID: "bob"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/register", registerRequest{AgentID: "bob"}, "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestUnregisterClosesQueue(t *testing.T) {
	_, srv := newTestTransport(t, "")
	resp := postJSON(t, srv.URL+"/api/register", registerRequest{AgentID: "bob"}, "")
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/unregister", unregisterRequest{AgentID: "bob"}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	pollResp, err := http.Get(srv.URL + "/api/poll?agent_id=bob")
	require.NoError(t, err)
	defer pollResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, pollResp.StatusCode)
}
