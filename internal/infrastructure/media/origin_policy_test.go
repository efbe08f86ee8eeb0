package media

import (
	"os"
	"path/filepath"
	"testing"

	"castmix/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginPolicy_Check(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "logo.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))

	policy := NewOriginPolicy([]string{root}, []string{"cdn.example.com", "*.assets.example.net"})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"data url", "data:image/png;base64,AAAA", true},
		{"file under root", filepath.Join(root, "logo.png"), true},
		{"file url under root", "file://" + filepath.Join(root, "logo.png"), true},
		{"missing file under root", filepath.Join(root, "later.png"), true},
		{"file outside root", filepath.Join(outside, "secret"), false},
		{"dot dot escape", filepath.Join(root, "..", filepath.Base(outside), "secret"), false},
		{"relative path", "logo.png", false},
		{"system file", "/etc/passwd", false},
		{"file url with host", "file://fileserver/share/a.png", false},
		{"allowed host", "https://cdn.example.com/a.gif", true},
		{"allowed host with port", "http://CDN.example.com:8080/a.gif", true},
		{"wildcard subdomain", "https://eu.assets.example.net/a.png", true},
		{"wildcard apex", "https://assets.example.net/a.png", false},
		{"lookalike host", "https://cdn.example.com.evil.test/a.gif", false},
		{"metadata address", "http://169.254.169.254/latest/meta-data", false},
		{"loopback", "http://127.0.0.1:8080/api/v1/studio/status", false},
		{"unsupported scheme", "ftp://cdn.example.com/a.gif", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Check(tt.origin)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidOrigin)
			}
		})
	}
}

func TestOriginPolicy_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(root, "innocent.png")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := NewOriginPolicy([]string{root}, nil).Check(link)
	assert.ErrorIs(t, err, domain.ErrInvalidOrigin)
}

func TestOriginPolicy_EmptyDeniesAll(t *testing.T) {
	policy := NewOriginPolicy(nil, nil)
	assert.ErrorIs(t, policy.Check("/tmp/a.png"), domain.ErrInvalidOrigin)
	assert.ErrorIs(t, policy.Check("https://example.com/a.png"), domain.ErrInvalidOrigin)
	assert.NoError(t, policy.Check("data:image/png;base64,AAAA"))
}
