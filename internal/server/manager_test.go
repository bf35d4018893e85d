package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/config"
)

func startManager(t *testing.T, handler http.Handler, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Addr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(handler, cfg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestFromServerConfig(t *testing.T) {
	cfg := FromServerConfig(8181, config.ServerConfig{
		ReadTimeout:     5 * time.Second,
		ShutdownTimeout: 3 * time.Second,
	})
	assert.Equal(t, ":8181", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, DefaultConfig().WriteTimeout, cfg.WriteTimeout, "zero keeps the default")
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestManager_ServesAndStops(t *testing.T) {
	m := startManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), nil)
	assert.True(t, m.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr(), "bound address replaces the configured port")

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")

	_, err = http.Get("http://" + m.Addr() + "/")
	assert.Error(t, err)
}

func TestManager_StartStates(t *testing.T) {
	m := NewManager(http.NewServeMux(), Config{Addr: "127.0.0.1:0"}, nil)
	assert.False(t, m.IsRunning(), "not running before start")
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, m.Shutdown(context.Background()))
	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), zap.NewNop())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_DrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := startManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte("scored"))
	}), nil)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + m.Addr() + "/model/x/csv")
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		got <- result{body: string(b), err: err}
	}()
	<-entered
	assert.Equal(t, int64(1), m.ActiveConnections())

	stopped := make(chan error, 1)
	go func() { stopped <- m.Shutdown(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("shutdown returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	r := <-got
	require.NoError(t, r.err)
	assert.Equal(t, "scored", r.body)
}

func TestManager_ForceClosesAfterTimeout(t *testing.T) {
	entered := make(chan struct{})
	m := startManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}), func(c *Config) { c.ShutdownTimeout = 50 * time.Millisecond })

	clientErr := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + m.Addr() + "/")
		if err == nil {
			resp.Body.Close()
		}
		clientErr <- err
	}()
	<-entered

	start := time.Now()
	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "shutdown test server")
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case err := <-clientErr:
		assert.Error(t, err, "connection was closed under the client")
	case <-time.After(2 * time.Second):
		t.Fatal("client request still hanging after forced close")
	}
}

func TestManager_WaitReturnsOnContext(t *testing.T) {
	m := startManager(t, http.NewServeMux(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Wait(ctx))

	select {
	case <-m.Errors():
		t.Fatal("no serve error expected")
	default:
	}
}

func TestManager_StartTLSMissingCertificate(t *testing.T) {
	m := NewManager(http.NewServeMux(), Config{Addr: "127.0.0.1:0"}, zap.NewNop())

	err := m.StartTLS("/nonexistent/cert.pem", "/nonexistent/key.pem")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key pair")
	assert.False(t, m.IsRunning())
}

func TestManager_ListenFailure(t *testing.T) {
	first := startManager(t, http.NewServeMux(), nil)

	m := NewManager(http.NewServeMux(), Config{Addr: first.Addr()}, zap.NewNop())
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
