package drivers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpDialTimeout = 10 * time.Second

// FTP resolves ftp:// paths. Credentials come from the URL userinfo; without
// them an anonymous login is attempted, and a rejected login surfaces as
// ErrAuthRequired rather than a generic failure.
type FTP struct{}

func NewFTP() *FTP { return &FTP{} }

func (f *FTP) Name() string { return "ftp" }

func (f *FTP) Matches(path string) bool {
	return strings.HasPrefix(strings.TrimSpace(path), "ftp://")
}

func (f *FTP) Lookup(ctx context.Context, path string) (Listing, error) {
	u, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return Listing{}, fmt.Errorf("parse %q: %w", path, err)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(ftpDialTimeout))
	if err != nil {
		return Listing{}, fmt.Errorf("dial %q: %w", host, err)
	}
	defer conn.Quit()

	user := "anonymous"
	pass := "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return Listing{}, fmt.Errorf("%w: %s@%s: %v", ErrAuthRequired, user, u.Host, err)
	}

	dir := u.Path
	if dir == "" {
		dir = "/"
	}
	entries, err := conn.List(dir)
	if err != nil {
		return Listing{}, fmt.Errorf("list %q: %w", dir, err)
	}

	listing := Listing{Files: []string{}, Dirs: []string{}, Details: map[string]any{}}
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		switch entry.Type {
		case ftp.EntryTypeFolder:
			listing.Dirs = append(listing.Dirs, entry.Name)
		default:
			listing.Files = append(listing.Files, entry.Name)
			listing.Details[entry.Name] = map[string]any{
				"size":     entry.Size,
				"modified": entry.Time,
			}
		}
	}
	return listing, nil
}
