package stack

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stackd/pkg/topology"
)

type fakeEngine struct {
	containers []Container
	volumes    []VolumeInfo
	networks   []NetworkInfo
	err        error
	project    string
}

func (f *fakeEngine) Containers(_ context.Context, project string) ([]Container, error) {
	f.project = project
	return f.containers, f.err
}

func (f *fakeEngine) Volumes(context.Context, string) ([]VolumeInfo, error) {
	return f.volumes, nil
}

func (f *fakeEngine) Networks(context.Context, string) ([]NetworkInfo, error) {
	return f.networks, nil
}

func (f *fakeEngine) Close() error { return nil }

func healthyEngine() *fakeEngine {
	return &fakeEngine{
		containers: []Container{
			{
				Name: "app-server-1", Service: "server", State: "running",
				Ports:    []PublishedPort{{Public: 8000, Private: 8000, Protocol: "tcp"}},
				Networks: []string{"app_stackd"},
			},
			{
				Name: "app-redis-1", Service: "redis", State: "running",
				Ports:    []PublishedPort{{Public: 6379, Private: 6379, Protocol: "tcp"}},
				Networks: []string{"app_stackd"},
				Mounts:   []ContainerMount{{Type: "volume", Name: "app_redis-data", Destination: "/data"}},
			},
		},
		volumes:  []VolumeInfo{{Name: "app_redis-data", Key: "redis-data", Driver: "local"}},
		networks: []NetworkInfo{{Name: "app_stackd", Key: "stackd", Driver: "bridge"}},
	}
}

func inspect(t *testing.T, e *fakeEngine) *Snapshot {
	t.Helper()
	snap, err := Inspect(context.Background(), e, "app")
	require.NoError(t, err)
	return snap
}

func ruleIDs(r *topology.Report) []string {
	var out []string
	for _, f := range r.Findings {
		out = append(out, f.Rule)
	}
	return out
}

func TestInspectSortsByService(t *testing.T) {
	e := healthyEngine()
	snap := inspect(t, e)

	assert.Equal(t, "app", e.project)
	assert.Equal(t, "redis", snap.Containers[0].Service)
	assert.Equal(t, []string{"redis", "app-redis-1", "running", "6379->6379/tcp", "app_stackd"}, snap.Rows()[0])
}

func TestInspectErrors(t *testing.T) {
	_, err := Inspect(context.Background(), &fakeEngine{}, "app")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	boom := errors.New("daemon down")
	_, err = Inspect(context.Background(), &fakeEngine{err: boom}, "app")
	assert.ErrorIs(t, err, boom)
}

func TestVerifyHealthyStack(t *testing.T) {
	report := Verify(inspect(t, healthyEngine()), topology.DefaultContract())
	assert.True(t, report.OK())
	assert.Empty(t, report.Findings)
}

func TestVerifyFindings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *fakeEngine)
		want   []string
	}{
		{
			name:   "cache stopped",
			mutate: func(e *fakeEngine) { e.containers[1].State = "exited" },
			want:   []string{topology.RuleContainerState},
		},
		{
			name:   "server missing",
			mutate: func(e *fakeEngine) { e.containers = e.containers[1:] },
			want:   []string{topology.RuleContainerCount, topology.RuleServiceMissing},
		},
		{
			name:   "cache unhealthy",
			mutate: func(e *fakeEngine) { e.containers[1].Health = "unhealthy" },
			want:   []string{topology.RuleContainerHealth},
		},
		{
			name:   "server still starting",
			mutate: func(e *fakeEngine) { e.containers[0].Health = "starting" },
			want:   nil,
		},
		{
			name:   "port not published",
			mutate: func(e *fakeEngine) { e.containers[0].Ports = nil },
			want:   []string{topology.RuleContainerPort},
		},
		{
			name: "data on anonymous volume",
			mutate: func(e *fakeEngine) {
				e.containers[1].Mounts = []ContainerMount{{Type: "bind", Destination: "/data"}}
			},
			want: []string{topology.RuleVolumeMount},
		},
		{
			name:   "extra volume",
			mutate: func(e *fakeEngine) { e.volumes = append(e.volumes, VolumeInfo{Name: "app_other"}) },
			want:   []string{topology.RuleVolumeCount},
		},
		{
			name:   "separate networks",
			mutate: func(e *fakeEngine) { e.containers[0].Networks = []string{"app_default"} },
			want:   []string{topology.RuleNetworkShared},
		},
		{
			name:   "overlay network",
			mutate: func(e *fakeEngine) { e.networks[0].Driver = "overlay" },
			want:   []string{topology.RuleNetworkDriver},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := healthyEngine()
			tt.mutate(e)

			report := Verify(inspect(t, e), topology.DefaultContract())
			assert.Equal(t, tt.want, ruleIDs(report), "findings: %+v", report.Findings)
		})
	}
}

// fakeRedis answers PING with PONG and rejects HELLO so clients fall back
// to RESP2.
func fakeRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveRESP(conn)
		}
	}()
	return ln.Addr().String()
}

func serveRESP(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		var reply string
		switch strings.ToUpper(args[0]) {
		case "PING":
			reply = "+PONG\r\n"
		case "HELLO":
			reply = "-ERR unknown command 'HELLO'\r\n"
		default:
			reply = "+OK\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array header %q", line)
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(header[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestProbeCache(t *testing.T) {
	addr := fakeRedis(t)
	assert.NoError(t, ProbeCache(context.Background(), addr, ProbeOptions{Timeout: 2 * time.Second}))

	err := ProbeCache(context.Background(), "no-port", ProbeOptions{})
	assert.ErrorContains(t, err, "invalid cache address")
}

func TestProbeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","data":{"service":"stackd"}}`))
	}))
	t.Cleanup(srv.Close)

	assert.NoError(t, ProbeServer(context.Background(), srv.URL, time.Second))
}

func TestProbeReportsUnreachableTargets(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	report := Probe(context.Background(),
		CacheTarget("redis", fakeRedis(t), ProbeOptions{Timeout: time.Second}),
		CacheTarget("redis-replica", closedAddr, ProbeOptions{Timeout: time.Second}),
		ServerTarget("server", "http://"+closedAddr, time.Second),
	)

	require.Len(t, report.Findings, 2)
	assert.Equal(t, topology.RuleReachability, report.Findings[0].Rule)
	assert.Equal(t, "redis-replica", report.Findings[0].Service)
	assert.Equal(t, "server", report.Findings[1].Service)
}
