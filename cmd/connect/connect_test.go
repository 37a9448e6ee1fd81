package connect

import (
	"context"
	"strings"
	"testing"
)

func TestGetCommand(t *testing.T) {
	t.Parallel()

	cmd := GetCommand()
	if cmd.Name != "connect" {
		t.Errorf("command name = %q; want %q", cmd.Name, "connect")
	}
	if cmd.Action == nil {
		t.Fatal("command action should not be nil")
	}
	if len(cmd.Flags) == 0 {
		t.Error("command should have flags")
	}
}

// it should reject bad arguments before touching the network
func TestCommand_InvalidArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no transport", args: nil, wantErr: "exactly one argument"},
		{name: "bad transport", args: []string{"tcp//localhost"}, wantErr: "parsing transport"},
		{name: "udp transport", args: []string{"udp://localhost:53"}, wantErr: "protocol must be tcp"},
		{name: "no host", args: []string{"tcp://:80"}, wantErr: "specify a host"},
		{name: "bad policy", args: []string{"--retry", "--retry-multiplier", "0.5", "tcp://localhost:80"}, wantErr: "exiting"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := GetCommand().Run(context.Background(), append([]string{"connect"}, tc.args...))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Run(%v) error = %v; want %q", tc.args, err, tc.wantErr)
			}
		})
	}
}
