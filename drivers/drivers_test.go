package drivers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	name    string
	matches func(string) bool
	lookup  func(context.Context, string) (Listing, error)
}

func (d *stubDriver) Name() string             { return d.name }
func (d *stubDriver) Matches(path string) bool { return d.matches(path) }

func (d *stubDriver) Lookup(ctx context.Context, path string) (Listing, error) {
	return d.lookup(ctx, path)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	first := &stubDriver{
		name:    "first",
		matches: func(string) bool { return true },
		lookup: func(context.Context, string) (Listing, error) {
			return Listing{Files: []string{"from-first"}}, nil
		},
	}
	second := &stubDriver{
		name:    "second",
		matches: func(string) bool { return true },
		lookup: func(context.Context, string) (Listing, error) {
			return Listing{Files: []string{"from-second"}}, nil
		},
	}

	r := NewRegistry(first, second)

	d, ok := r.Resolve("/anything")
	require.True(t, ok)
	assert.Equal(t, "first", d.Name())

	listing, err := r.Lookup(context.Background(), "/anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"from-first"}, listing.Files)
}

func TestRegistryNoDriverMatches(t *testing.T) {
	r := NewRegistry(NewLocal(), NewFTP(), NewSFTP())

	_, ok := r.Resolve("gopher://example.org")
	assert.False(t, ok)

	_, err := r.Lookup(context.Background(), "gopher://example.org")
	require.ErrorIs(t, err, ErrNoDriver)
	assert.Contains(t, err.Error(), "gopher://example.org")
}

func TestRegistryPropagatesAuthRequired(t *testing.T) {
	needy := &stubDriver{
		name:    "needy",
		matches: func(string) bool { return true },
		lookup: func(_ context.Context, path string) (Listing, error) {
			return Listing{}, errors.Join(ErrAuthRequired, errors.New(path))
		},
	}

	r := NewRegistry(needy)

	_, err := r.Lookup(context.Background(), "vault://secret")
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestSchemeDriversClaimOnlyTheirScheme(t *testing.T) {
	ftp := NewFTP()
	sftp := NewSFTP()

	assert.True(t, ftp.Matches("ftp://example.org/pub"))
	assert.True(t, ftp.Matches("  ftp://example.org"))
	assert.False(t, ftp.Matches("sftp://example.org"))
	assert.False(t, ftp.Matches("/tmp"))

	assert.True(t, sftp.Matches("sftp://user:pw@example.org/home"))
	assert.False(t, sftp.Matches("ftp://example.org"))
	assert.False(t, sftp.Matches("/tmp"))
}

func TestSFTPWithoutCredentialsNeedsAuth(t *testing.T) {
	s := NewSFTP()

	_, err := s.Lookup(context.Background(), "sftp://example.org/home")
	require.ErrorIs(t, err, ErrAuthRequired)

	_, err = s.Lookup(context.Background(), "sftp://user@example.org/home")
	require.ErrorIs(t, err, ErrAuthRequired)
}
