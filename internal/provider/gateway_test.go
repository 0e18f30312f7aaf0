package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
	got  Request
	text string
	err  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, req Request) (string, error) {
	f.got = req
	return f.text, f.err
}

func envMap(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestGateway_CallerKeyWins(t *testing.T) {
	fp := &fakeProvider{name: "openai", text: "hello"}
	g := NewGateway(WithLookupEnv(envMap(map[string]string{"OPENAI_API_KEY": "server-key"})))
	g.Register(fp, "OPENAI_API_KEY")

	text, err := g.Generate(context.Background(), "openai", "sys", "user", "caller-key")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "caller-key", fp.got.APIKey)
	assert.Equal(t, "sys", fp.got.SystemPrompt)
	assert.Equal(t, "user", fp.got.UserPrompt)
}

func TestGateway_FallsBackToEnvironment(t *testing.T) {
	fp := &fakeProvider{name: "deepseek", text: "ok"}
	g := NewGateway(WithLookupEnv(envMap(map[string]string{"DEEPSEEK_API_KEY": "server-key"})))
	g.Register(fp, "DEEPSEEK_API_KEY")

	_, err := g.Generate(context.Background(), "DeepSeek", "s", "u", "")
	require.NoError(t, err)
	assert.Equal(t, "server-key", fp.got.APIKey)
}

func TestGateway_MissingKey(t *testing.T) {
	fp := &fakeProvider{name: "gemini"}
	g := NewGateway(WithLookupEnv(envMap(nil)))
	g.Register(fp, "GEMINI_API_KEY")

	_, err := g.Generate(context.Background(), "gemini", "s", "u", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	assert.True(t, IsClientError(err))
}

func TestGateway_UnknownProvider(t *testing.T) {
	g := NewGateway(WithLookupEnv(envMap(nil)))
	g.Register(&fakeProvider{name: "openai"}, "OPENAI_API_KEY")

	_, err := g.Generate(context.Background(), "unknown", "s", "u", "key")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.True(t, IsClientError(err))
}

func TestGateway_PropagatesProviderError(t *testing.T) {
	upstream := &UpstreamError{Provider: "openai", StatusCode: 401, Body: "bad key"}
	g := NewGateway(WithLookupEnv(envMap(nil)))
	g.Register(&fakeProvider{name: "openai", err: upstream}, "OPENAI_API_KEY")

	_, err := g.Generate(context.Background(), "openai", "s", "u", "key")
	var got *UpstreamError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 401, got.StatusCode)
	assert.False(t, IsClientError(err))
}

func TestGateway_Names(t *testing.T) {
	g := NewGateway()
	g.Register(&fakeProvider{name: "openai"}, "")
	g.Register(&fakeProvider{name: "Gemini"}, "")

	assert.Equal(t, []string{"gemini", "openai"}, g.Names())
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&UpstreamError{StatusCode: 500}, "rejected"},
		{ErrUpstreamUnreachable, "unreachable"},
		{ErrMalformedResponse, "malformed"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"fine":true}`))
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(5*time.Second, time.Second)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	require.NoError(t, err)
	body, err := Send(client, "test", req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fine":true}`, string(body))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/teapot", nil)
	require.NoError(t, err)
	_, err = Send(client, "test", req)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTeapot, upstream.StatusCode)
	assert.Equal(t, "short and stout", upstream.Body)
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, addr, nil)
	require.NoError(t, err)
	_, err = Send(NewHTTPClient(time.Second, 500*time.Millisecond), "test", req)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = Send(NewHTTPClient(50*time.Millisecond, 50*time.Millisecond), "test", req)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
}
