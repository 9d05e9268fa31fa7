package drivers

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const sftpDialTimeout = 10 * time.Second

// SFTP resolves sftp:// paths. Both username and password must be present in
// the URL; anything less is reported as ErrAuthRequired so the client can
// prompt for credentials.
type SFTP struct{}

func NewSFTP() *SFTP { return &SFTP{} }

func (s *SFTP) Name() string { return "sftp" }

func (s *SFTP) Matches(path string) bool {
	return strings.HasPrefix(strings.TrimSpace(path), "sftp://")
}

func (s *SFTP) Lookup(ctx context.Context, path string) (Listing, error) {
	u, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return Listing{}, fmt.Errorf("parse %q: %w", path, err)
	}

	if u.User == nil || u.User.Username() == "" {
		return Listing{}, fmt.Errorf("%w: sftp needs a username for %s", ErrAuthRequired, u.Host)
	}
	pass, ok := u.User.Password()
	if !ok {
		return Listing{}, fmt.Errorf("%w: sftp needs a password for %s@%s", ErrAuthRequired, u.User.Username(), u.Host)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":22"
	}

	sshCfg := &ssh.ClientConfig{
		User:    u.User.Username(),
		Auth:    []ssh.AuthMethod{ssh.Password(pass)},
		Timeout: sftpDialTimeout,
		// Host keys are not pinned; the backend only talks to hosts the
		// user navigated to explicitly.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	dialer := net.Dialer{Timeout: sftpDialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return Listing{}, fmt.Errorf("dial %q: %w", host, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, host, sshCfg)
	if err != nil {
		netConn.Close()
		return Listing{}, fmt.Errorf("%w: ssh handshake with %s: %v", ErrAuthRequired, host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	sess, err := sftp.NewClient(client)
	if err != nil {
		return Listing{}, fmt.Errorf("open sftp session: %w", err)
	}
	defer sess.Close()

	dir := u.Path
	if dir == "" {
		dir = "/"
	}
	entries, err := sess.ReadDir(dir)
	if err != nil {
		return Listing{}, fmt.Errorf("list %q: %w", dir, err)
	}

	listing := Listing{Files: []string{}, Dirs: []string{}, Details: map[string]any{}}
	for _, info := range entries {
		if info.IsDir() {
			listing.Dirs = append(listing.Dirs, info.Name())
			continue
		}
		listing.Files = append(listing.Files, info.Name())
		listing.Details[info.Name()] = map[string]any{
			"size":     info.Size(),
			"modified": info.ModTime(),
		}
	}
	return listing, nil
}
