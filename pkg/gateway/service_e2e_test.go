package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"specter/pkg/bus"
	"specter/pkg/channel"
	wschannel "specter/pkg/channel/websocket"
	"specter/pkg/config"
	"specter/pkg/metrics"
)

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage

	continueOnHandlerError bool

	mu       sync.Mutex
	outbound []bus.OutboundMessage
	done     chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		outbound, err := handler(ctx, inbound)
		if err != nil && !a.continueOnHandlerError {
			return err
		}

		a.mu.Lock()
		a.outbound = append(a.outbound, outbound)
		a.mu.Unlock()
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) outbounds() []bus.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	outbound := make([]bus.OutboundMessage, len(a.outbound))
	copy(outbound, a.outbound)
	return outbound
}

func testGatewayConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Gateway = config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}
	cfg.Metrics.Enabled = true
	return cfg
}

func runService(t *testing.T, svc *Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()
	t.Cleanup(cancel)

	return cancel, errCh
}

func waitStopped(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
		return nil
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}
}

func TestGatewayServiceRunE2EFakeAdapterSessionContinuity(t *testing.T) {
	cfg := testGatewayConfig(t)
	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "one"},
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "echo two"},
			{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Content: "three"},
			{Channel: "telegram", ChatID: "200", SessionKey: "telegram:200", Content: "four"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(context.Background(), cfg, []channel.Adapter{adapter}, Options{
		Registry: newTestRegistry(t, &echoModule{}),
		Fallback: turnCounter,
	}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := runService(t, svc)
	waitDone(t, adapter.done)
	cancel()
	require.NoError(t, waitStopped(t, errCh))

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 4)
	require.Equal(t, "turns:0", outbounds[0].Content)
	require.Equal(t, "two", outbounds[1].Content)
	require.Equal(t, "echo", outbounds[1].Meta(bus.MetaModuleID))
	require.Equal(t, "turns:2", outbounds[2].Content)
	require.Equal(t, "turns:0", outbounds[3].Content)
	require.Equal(t, "telegram:100", outbounds[0].SessionKey)
	require.Equal(t, "telegram:200", outbounds[3].SessionKey)
	require.Zero(t, svc.manager.Len(), "sessions are closed on shutdown")
}

func TestGatewayServiceRunE2EHandlerFailureReturnsOutboundError(t *testing.T) {
	cfg := testGatewayConfig(t)
	adapter := &scriptedAdapter{
		name:                   "telegram",
		continueOnHandlerError: true,
		inbound: []bus.InboundMessage{
			{Channel: "telegram", ChatID: "100", Content: "no session key"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(context.Background(), cfg, []channel.Adapter{adapter}, Options{
		Registry: newTestRegistry(t, &echoModule{}),
		Fallback: turnCounter,
	}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := runService(t, svc)
	waitDone(t, adapter.done)
	cancel()
	require.NoError(t, waitStopped(t, errCh))

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 1)
	require.Equal(t, "", outbounds[0].Content)
	require.Contains(t, outbounds[0].Error, "session key is required")
}

type failingAdapter struct{}

func (failingAdapter) Name() string { return "broken" }

func (failingAdapter) Run(context.Context, channel.Handler) error {
	return errors.New("token rejected")
}

func TestGatewayServiceRunStopsWhenChannelFails(t *testing.T) {
	cfg := testGatewayConfig(t)
	healthy := &scriptedAdapter{name: "telegram", done: make(chan struct{})}

	svc, err := NewService(context.Background(), cfg, []channel.Adapter{healthy, failingAdapter{}}, Options{
		Registry: newTestRegistry(t, &echoModule{}),
		Fallback: turnCounter,
	}, slog.Default())
	require.NoError(t, err)

	_, errCh := runService(t, svc)
	err = waitStopped(t, errCh)
	require.ErrorContains(t, err, "run broken channel: token rejected")
}

func TestGatewayServiceReadyzTransitionsOnProviderHealthRecovery(t *testing.T) {
	cfg := testGatewayConfig(t)
	provider := &toggledHealthProvider{}
	adapter := &scriptedAdapter{name: "telegram", done: make(chan struct{})}

	svc, err := NewService(context.Background(), cfg, []channel.Adapter{adapter}, Options{
		Registry: newTestRegistry(t, &echoModule{}),
		Fallback: turnCounter,
		Provider: provider,
	}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := runService(t, svc)

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", cfg.Gateway.Port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	provider.setHealthErr(fmt.Errorf("temporary provider outage"))
	require.Error(t, svc.checkProviderHealth(context.Background()))
	require.Equal(t, http.StatusServiceUnavailable, waitHTTPStatus(t, readyURL, 2*time.Second))

	provider.setHealthErr(nil)
	require.NoError(t, svc.checkProviderHealth(context.Background()))
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	cancel()
	require.NoError(t, waitStopped(t, errCh))
}

func TestGatewayServiceWebSocketChannel(t *testing.T) {
	cfg := testGatewayConfig(t)
	adapter := wschannel.NewAdapter(cfg.Channels.WebSocket, slog.Default())

	svc, err := NewService(context.Background(), cfg, []channel.Adapter{adapter}, Options{
		Registry: newTestRegistry(t, &echoModule{}),
		Fallback: turnCounter,
		Recorder: metrics.NewRecorder(),
	}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := runService(t, svc)

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", cfg.Gateway.Port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	var conn *ws.Conn
	url := fmt.Sprintf("ws://127.0.0.1:%d%s?session=desk", cfg.Gateway.Port, adapter.Path())
	require.Eventually(t, func() bool {
		c, resp, err := ws.DefaultDialer.Dial(url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 25*time.Millisecond)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wschannel.Frame{Type: "prompt", ID: "c1", Text: "echo over the wire"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var reply wschannel.Frame
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "reply", reply.Type)
	require.Equal(t, "over the wire", reply.Text)
	require.Equal(t, "echo", reply.ModuleID)

	metricsURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", cfg.Gateway.Port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, metricsURL, 2*time.Second))

	cancel()
	require.NoError(t, waitStopped(t, errCh))
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
