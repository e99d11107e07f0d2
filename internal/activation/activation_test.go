package activation

import (
	"os"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestSocketCount(t *testing.T) {
	const pid = 4242

	tests := []struct {
		name      string
		env       map[string]string
		wantN     int
		wantNames []string
		wantErr   bool
	}{
		{name: "no environment", env: map[string]string{}},
		{name: "wrong pid", env: map[string]string{"LISTEN_PID": "99999", "LISTEN_FDS": "1"}},
		{name: "invalid pid", env: map[string]string{"LISTEN_PID": "not-a-number", "LISTEN_FDS": "1"}, wantErr: true},
		{name: "invalid fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "x"}, wantErr: true},
		{name: "zero fds", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "0"}},
		{name: "missing fds", env: map[string]string{"LISTEN_PID": "4242"}},
		{name: "one socket", env: map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "1"}, wantN: 1},
		{
			name:      "named sockets",
			env:       map[string]string{"LISTEN_PID": "4242", "LISTEN_FDS": "2", "LISTEN_FDNAMES": "metrics:webhook"},
			wantN:     2,
			wantNames: []string{"metrics", "webhook"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, names, err := socketCount(envOf(tt.env), pid)
			if (err != nil) != tt.wantErr {
				t.Fatalf("socketCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if n != tt.wantN {
				t.Errorf("count = %d, want %d", n, tt.wantN)
			}
			if diff := cmp.Diff(tt.wantNames, names); diff != "" {
				t.Errorf("names mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListener_NotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	ln, err := Listener("webhook")
	if err != nil {
		t.Fatalf("Listener() unexpected error: %v", err)
	}
	if ln != nil {
		t.Errorf("expected nil listener without activation, got %v", ln.Addr())
	}
}

func TestListener_OtherProcess(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()+1))
	t.Setenv("LISTEN_FDS", "1")

	ln, err := Listener("webhook")
	if err != nil || ln != nil {
		t.Errorf("expected no listener for another process, got %v, %v", ln, err)
	}
}

func TestListener_InvalidEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "many")

	if _, err := Listener("webhook"); err == nil {
		t.Error("expected error for invalid LISTEN_FDS, got nil")
	}
}
