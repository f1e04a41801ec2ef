package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTask opens an authenticated channel and execs a remote command,
// grounded on golang.org/x/crypto/ssh (a direct dependency of the pack's
// 88lin-divinesense repo, and a transitive dependency of pkg/sftp in the
// pack's dagu-org-dagu — the closest domain analog in the retrieval pack to
// a cron-driven DAG runner). Key-based auth only; host-key verification is
// mandatory.
type SSHTask struct {
	Host           string
	Port           int
	User           string
	Command        string
	KeyPath        string
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	KnownHostsPath string // defaults to ~/.ssh/known_hosts
}

const (
	defaultSSHConnectTimeout = 10 * time.Second
	defaultSSHIOTimeout      = 30 * time.Second
)

// Execute dials, authenticates, verifies the host key, and runs Command on
// the remote exec channel — never through Session.Shell, so the remote
// side never interpolates the command through its own shell either.
func (s *SSHTask) Execute(ctx context.Context, deadline time.Time) Result {
	start := time.Now()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	keyPath := s.KeyPath
	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("resolve home directory: %v", err)}
		}
		keyPath = filepath.Join(home, ".ssh", "id_rsa")
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("read private key: %v", err)}
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("parse private key: %v", err)}
	}

	knownHostsPath := s.KnownHostsPath
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("resolve home directory: %v", err)}
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeyCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("blocked: load known_hosts: %v", err)}
	}

	connectTimeout := s.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultSSHConnectTimeout
	}

	port := s.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(port))

	config := &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         connectTimeout,
	}

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("dial: %v", err)}
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	dialDone := make(chan dialResult, 1)
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			dialDone <- dialResult{err: err}
			return
		}
		dialDone <- dialResult{client: ssh.NewClient(sshConn, chans, reqs)}
	}()

	var client *ssh.Client
	select {
	case res := <-dialDone:
		if res.err != nil {
			conn.Close()
			reason := res.err.Error()
			if isHostKeyError(res.err) {
				return Result{Status: StatusFailed, Duration: time.Since(start), Error: "blocked: host key mismatch: " + reason}
			}
			return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("ssh handshake: %v", res.err)}
		}
		client = res.client
	case <-ctx.Done():
		conn.Close()
		return Result{Status: StatusTimeout, Duration: time.Since(start), Error: "deadline exceeded during handshake"}
	case <-time.After(time.Until(deadline)):
		conn.Close()
		return Result{Status: StatusTimeout, Duration: time.Since(start), Error: "deadline exceeded during handshake"}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("open session: %v", err)}
	}
	defer session.Close()

	stdout := newCappedBuffer(MaxCaptureBytes)
	stderr := newCappedBuffer(MaxCaptureBytes)
	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(s.Command); err != nil {
		return Result{Status: StatusFailed, Duration: time.Since(start), Error: fmt.Sprintf("start exec channel: %v", err)}
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()

	select {
	case err := <-waitDone:
		duration := time.Since(start)
		truncated := stdout.Truncated() || stderr.Truncated()
		if err != nil {
			exitCode := -1
			if ee, ok := err.(*ssh.ExitError); ok {
				exitCode = ee.ExitStatus()
			}
			return Result{
				Status: StatusFailed, ExitCode: &exitCode,
				Stdout: stdout.String(), Stderr: stderr.String(),
				Duration: duration, OutputTruncated: truncated,
				Error: err.Error(),
			}
		}
		exitCode := 0
		return Result{
			Status: StatusSuccess, ExitCode: &exitCode,
			Stdout: stdout.String(), Stderr: stderr.String(),
			Duration: duration, OutputTruncated: truncated,
		}
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{
			Status: StatusTimeout, Stdout: stdout.String(), Stderr: stderr.String(),
			Duration: time.Since(start), OutputTruncated: stdout.Truncated() || stderr.Truncated(),
			Error: "deadline exceeded",
		}
	}
}

func isHostKeyError(err error) bool {
	_, ok := err.(*knownhosts.KeyError)
	return ok
}
