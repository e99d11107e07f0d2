// Package activation picks up sockets passed by systemd socket activation,
// so the webhook server can be started on demand by a .socket unit.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Systemd passes file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// socketCount returns how many descriptors were passed to the process with
// the given pid, and their names. Zero means no activation.
func socketCount(getenv func(string) string, pid int) (int, []string, error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil, nil
	}
	listenPID, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if listenPID != pid {
		// Socket activation is for a different process
		return 0, nil, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 1 {
		return 0, nil, nil
	}

	var names []string
	if v := getenv("LISTEN_FDNAMES"); v != "" {
		names = strings.Split(v, ":")
	}
	return n, names, nil
}

// Listener returns the activated socket named name, or the first one when
// no socket carries that name. Other activated sockets are closed. It
// returns nil when the process was not socket-activated.
func Listener(name string) (net.Listener, error) {
	n, names, err := socketCount(os.Getenv, os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}

	pick := 0
	for i, fdName := range names {
		if i < n && fdName == name {
			pick = i
			break
		}
	}

	var chosen net.Listener
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}
		if i != pick {
			_ = file.Close()
			continue
		}

		ln, err := net.FileListener(file)
		// the listener holds its own duplicate of the descriptor
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		chosen = ln
	}

	// Unset the environment variables so child processes (git) don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return chosen, nil
}
