package media

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"castmix/internal/core/domain"
)

// OriginPolicy restricts which origins a remote caller may ask the loader
// to open. Data URLs are always accepted. Files must resolve under one of
// the roots and HTTP(S) URLs must name one of the hosts, where "*.example.com"
// matches any subdomain. A policy with no roots or hosts rejects that
// family of origins entirely.
type OriginPolicy struct {
	roots []string
	hosts []string
}

func NewOriginPolicy(roots, hosts []string) *OriginPolicy {
	p := &OriginPolicy{}
	for _, root := range roots {
		if root == "" {
			continue
		}
		if resolved := resolvePath(root); resolved != "" {
			p.roots = append(p.roots, resolved)
		}
	}
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			p.hosts = append(p.hosts, host)
		}
	}
	return p
}

// Check returns an error wrapping domain.ErrInvalidOrigin when origin is
// outside the policy.
func (p *OriginPolicy) Check(origin string) error {
	if origin == "" {
		return domain.ErrInvalidOrigin
	}
	if strings.HasPrefix(origin, "data:") {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidOrigin, err)
	}

	switch u.Scheme {
	case "", "file":
		if u.Host != "" && u.Host != "localhost" {
			return fmt.Errorf("%w: remote file host %q", domain.ErrInvalidOrigin, u.Host)
		}
		path := u.Path
		if path == "" {
			path = origin
		}
		if p.pathAllowed(path) {
			return nil
		}
		return fmt.Errorf("%w: %s is outside the permitted media roots", domain.ErrInvalidOrigin, path)
	case "http", "https":
		if p.hostAllowed(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: host %q is not permitted", domain.ErrInvalidOrigin, u.Hostname())
	default:
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidOrigin, u.Scheme)
	}
}

func (p *OriginPolicy) pathAllowed(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	resolved := resolvePath(path)
	if resolved == "" {
		return false
	}
	for _, root := range p.roots {
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (p *OriginPolicy) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, allowed := range p.hosts {
		if allowed == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(allowed, "*"); ok && strings.HasPrefix(suffix, ".") && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// resolvePath follows symlinks when the path exists so a link inside a root
// cannot point the loader elsewhere.
func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	if _, err := os.Lstat(abs); err == nil {
		// Exists but does not resolve: a dangling link.
		return ""
	}
	// Not there yet: resolve the directory it would land in.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs))
	}
	return abs
}
