package automation

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/tracing"
)

// Client calls a remote Automation service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens a plaintext connection to addr.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// RemoteStatus is the decoded Status response.
type RemoteStatus struct {
	Session string
	State   string
	Dir     string
	Pending string
	Busy    bool
}

// Execute runs cmd remotely. When the command was consumed but did not
// complete, the returned Completion carries whatever output the server
// reported along with the error.
func (c *Client) Execute(ctx context.Context, cmd string) (console.Completion, error) {
	ctx, span := tracing.StartSpan(ctx, "automation.Client.Execute", tracing.KindClient)
	req, err := structpb.NewStruct(map[string]any{"command": cmd})
	if err != nil {
		tracing.EndSpan(span, err)
		return console.Completion{}, err
	}
	out := new(structpb.Struct)
	err = c.cc.Invoke(ctx, executeMethod, req, out)
	tracing.EndSpan(span, err)
	if err != nil {
		var res console.Completion
		for _, d := range status.Convert(err).Details() {
			if s, ok := d.(*structpb.Struct); ok {
				res = completionFrom(s)
			}
		}
		return res, err
	}
	return completionFrom(out), nil
}

func (c *Client) Status(ctx context.Context) (RemoteStatus, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &structpb.Struct{}, out); err != nil {
		return RemoteStatus{}, err
	}
	f := out.GetFields()
	return RemoteStatus{
		Session: f["session"].GetStringValue(),
		State:   f["state"].GetStringValue(),
		Dir:     f["dir"].GetStringValue(),
		Pending: f["pending"].GetStringValue(),
		Busy:    f["busy"].GetBoolValue(),
	}, nil
}

func completionFrom(s *structpb.Struct) console.Completion {
	f := s.GetFields()
	return console.Completion{
		Command: f["command"].GetStringValue(),
		Output:  f["output"].GetStringValue(),
		Dir:     f["dir"].GetStringValue(),
	}
}

// Running reports whether a decoded state means the remote shell is alive.
func (s RemoteStatus) Running() bool {
	return s.State == shell.StateRunning.String()
}
