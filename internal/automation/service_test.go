package automation_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/antonkrylov/aura/internal/automation"
	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/shell/shelltest"
)

func serve(t *testing.T, runner automation.Runner) (*automation.Client, *grpc.ClientConn, *automation.Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := automation.NewServer(automation.New(runner, nil), nil)
	go func() { _ = srv.GRPC.Serve(lis) }()
	t.Cleanup(func() { srv.Stop(time.Second) })

	conn, err := automation.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return automation.NewClient(conn), conn, srv
}

type stubRunner struct {
	completion console.Completion
	err        error
	status     console.Status
	got        []string
}

func (s *stubRunner) Exec(_ context.Context, cmd string) (console.Completion, error) {
	s.got = append(s.got, cmd)
	return s.completion, s.err
}

func (s *stubRunner) Status(context.Context) (console.Status, error) {
	return s.status, nil
}

func TestExecute_ErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		cmd  string
		err  error
		code codes.Code
	}{
		{"blank", "   ", nil, codes.InvalidArgument},
		{"pending", "ls", shell.ErrCommandPending, codes.FailedPrecondition},
		{"not running", "ls", shell.ErrNotRunning, codes.Unavailable},
		{"closed", "ls", console.ErrRunnerClosed, codes.Unavailable},
		{"exited", "exit 1", &shell.ExitError{Status: shell.ExitStatus{Code: 1}}, codes.Aborted},
		{"other", "ls", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _ := serve(t, &stubRunner{err: tc.err})
			_, err := c.Execute(context.Background(), tc.cmd)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestExecute_FailureCarriesOutput(t *testing.T) {
	stub := &stubRunner{
		completion: console.Completion{Command: "exit 2", Output: "bye", Dir: "/tmp"},
		err:        &shell.ExitError{Status: shell.ExitStatus{Code: 2}},
	}
	c, _, _ := serve(t, stub)
	res, err := c.Execute(context.Background(), "exit 2")
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, "bye", res.Output)
	assert.Equal(t, "/tmp", res.Dir)
}

func TestHealthIsServing(t *testing.T) {
	_, conn, srv := serve(t, &stubRunner{})
	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: automation.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	srv.SetServing(false)
	resp, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: automation.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestEndToEndWithFakeShell(t *testing.T) {
	s := shell.NewSession(shell.Config{}, shell.WithSpawner(&shelltest.Spawner{Dir: "/home/user"}))
	r := console.NewRunner(s, console.NewBuffer(0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	c, _, _ := serve(t, r)
	res, err := c.Execute(ctx, "echo remote")
	require.NoError(t, err)
	assert.Equal(t, console.Completion{Command: "echo remote", Output: "remote", Dir: "/home/user"}, res)

	_, err = c.Execute(ctx, "cd /var")
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running())
	assert.Equal(t, "/var", st.Dir)
	assert.False(t, st.Busy)
	assert.Equal(t, s.ID(), st.Session)
}
