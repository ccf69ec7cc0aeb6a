package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sys/unix"
)

const dialTimeout = 3 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckHTTPEndpoint verifies that the host behind rawURL accepts TCP
// connections. It does not send a request, so webhook receivers are not
// triggered.
func CheckHTTPEndpoint(ctx context.Context, name, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url %q", rawURL)}
	}
	host := parsed.Host
	if parsed.Port() == "" {
		port := "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(parsed.Hostname(), port)
	}

	checkCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(checkCtx, "tcp", host)
	if err != nil {
		return Result{Name: name, Detail: summarizeDialError(host, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", host)}
}

// CheckKafkaBrokers verifies that at least one broker accepts a Kafka
// connection.
func CheckKafkaBrokers(ctx context.Context, name string, brokers []string) Result {
	if len(brokers) == 0 {
		return Result{Name: name, Detail: "no brokers configured"}
	}
	var lastErr error
	for _, broker := range brokers {
		checkCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := kafka.DialContext(checkCtx, "tcp", broker)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", broker)}
	}
	return Result{Name: name, Detail: summarizeDialError(strings.Join(brokers, ","), lastErr)}
}

func summarizeDialError(target string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s (timed out)", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s (timed out)", target)
	}
	return fmt.Sprintf("%s (%v)", target, err)
}
