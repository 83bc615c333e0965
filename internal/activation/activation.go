// Package activation hands the webhook server its listening socket, either
// inherited from systemd socket activation or bound directly.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

const (
	envListenPID     = "LISTEN_PID"
	envListenFDs     = "LISTEN_FDS"
	envListenFDNames = "LISTEN_FDNAMES"

	// systemd passes sockets starting after stdin, stdout and stderr
	firstFD = 3
)

// Listen returns the first socket passed by systemd, or a TCP listener bound
// to addr when the process was not socket activated. activated reports which.
func Listen(addr string) (l net.Listener, activated bool, err error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(listeners) > 0 {
		// only the first socket is served
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		return listeners[0], true, nil
	}

	if addr == "" {
		return nil, false, fmt.Errorf("no listen address configured and no activated socket")
	}
	l, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, false, nil
}

// Listeners returns the sockets systemd passed to this process, or nil when
// the process was not socket activated.
func Listeners() ([]net.Listener, error) {
	n, err := socketCount(os.Getenv, os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("invalid activated fd %d", fd)
		}

		l, err := net.FileListener(file)
		// FileListener dups the descriptor
		_ = file.Close()
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, l)
	}

	// children must not inherit the activation
	_ = os.Unsetenv(envListenPID)
	_ = os.Unsetenv(envListenFDs)
	_ = os.Unsetenv(envListenFDNames)

	return listeners, nil
}

// socketCount reads the number of activated sockets meant for pid
func socketCount(getenv func(string) string, pid int) (int, error) {
	pidStr := getenv(envListenPID)
	if pidStr == "" {
		return 0, nil
	}
	target, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envListenPID, pidStr, err)
	}
	if target != pid {
		return 0, nil
	}

	fdsStr := getenv(envListenFDs)
	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envListenFDs, fdsStr, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func closeAll(listeners []net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
