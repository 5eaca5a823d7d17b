// Package server provides the SSH reachability check for the dashboard host.
// The check only opens a session and runs echo; remediation never goes over SSH.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/ssh"
)

const sshProbeCommand = "echo healdash-ok"

// SSHProber checks that host:port accepts an SSH session.
type SSHProber interface {
	Probe(ctx context.Context, host string, port int) (string, error)
}

// SSHClient wraps an authenticated SSH connection.
type SSHClient struct {
	client *ssh.Client
	host   string
}

// NewSSHClient dials the target host with password or key authentication.
func NewSSHClient(ctx context.Context, addr, user, password, keyPEM string) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if keyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(keyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}
	if len(authMethods) == 0 {
		return nil, errors.New("no SSH credentials configured")
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts once hosts are enrolled
		Timeout:         15 * time.Second,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	return &SSHClient{client: ssh.NewClient(c, chans, reqs), host: addr}, nil
}

// Close cleanly shuts down the SSH connection.
func (s *SSHClient) Close() error { return s.client.Close() }

// Run executes a command and returns combined stdout+stderr.
func (s *SSHClient) Run(cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(cmd)
	return string(out), err
}

// keyProber authenticates with the private key at keyPath.
type keyProber struct {
	user    string
	keyPath string
}

// NewSSHProber returns the x/crypto/ssh backed prober.
func NewSSHProber(user, keyPath string) SSHProber {
	return &keyProber{user: user, keyPath: keyPath}
}

func (p *keyProber) Probe(ctx context.Context, host string, port int) (string, error) {
	key, err := os.ReadFile(expandHome(p.keyPath))
	if err != nil {
		return "", fmt.Errorf("reading SSH key: %w", err)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := NewSSHClient(ctx, addr, p.user, "", string(key))
	if err != nil {
		return "", err
	}
	defer client.Close()

	out, err := client.Run(sshProbeCommand)
	if err != nil {
		return strings.TrimSpace(out), fmt.Errorf("running probe on %s: %w", addr, err)
	}
	return strings.TrimSpace(out), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// handleSSHTest probes the SSH host from the body, or the saved dashboard config.
//
//	POST /api/monitoring/config/ssh/test
//	Body (optional): { "ssh_host": "10.0.0.5", "ssh_port": 22 }
func (s *Server) handleSSHTest(c *gin.Context) {
	ctx := c.Request.Context()
	settings := s.Engine.Settings(ctx)
	var body struct {
		Host string `json:"ssh_host"`
		Port int    `json:"ssh_port"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	host, port := body.Host, body.Port
	if host == "" {
		host = settings.SSHHost
	}
	if port == 0 {
		port = settings.SSHPort
	}
	if port == 0 {
		port = 22
	}
	if host == "" {
		badRequest(c, errors.New("ssh_host is not configured"))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	out, err := s.Prober.Probe(pctx, host, port)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "host": host, "port": port, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "host": host, "port": port, "output": out})
}
