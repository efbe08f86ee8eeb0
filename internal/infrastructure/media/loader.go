package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"
	"castmix/pkg/cache"
	"castmix/pkg/retry"
	"castmix/pkg/utils"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

type LoaderConfig struct {
	// AllowedOrigins are scheme://host values considered same-origin.
	AllowedOrigins []string
	Timeout        time.Duration
	MaxBytes       int64
	// Retry applies to remote fetches. 5xx responses and transport errors
	// are retried; other failures are not.
	Retry retry.Config
	// CacheTTL keeps fetched remote assets so re-attaching the same URL
	// skips the network. Zero disables the cache.
	CacheTTL time.Duration
	// Limits are checked against declared dimensions before any pixel data
	// is decoded. Zero fields take DefaultDecodeLimits.
	Limits DecodeLimits
}

type fetched struct {
	data    []byte
	tainted bool
}

// Loader decodes clip and image URLs. Supported schemes: bare paths,
// file://, data: and http(s)://.
type Loader struct {
	client   *http.Client
	allowed  map[string]bool
	maxBytes int64
	limits   DecodeLimits
	retry    retry.Config
	cache    *cache.Cache[fetched]
	logger   *zap.SugaredLogger
}

func NewLoader(cfg LoaderConfig, logger *zap.SugaredLogger) *Loader {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	l := &Loader{
		client:   &http.Client{Timeout: timeout},
		allowed:  allowed,
		maxBytes: maxBytes,
		limits:   cfg.Limits.withDefaults(),
		retry:    cfg.Retry,
		logger:   logger,
	}
	if l.retry.MaxAttempts == 0 {
		l.retry = retry.DefaultConfig()
	}
	if cfg.CacheTTL > 0 {
		l.cache = cache.New[fetched](cfg.CacheTTL)
	}
	return l
}

// Close stops the asset cache.
func (l *Loader) Close() error {
	if l.cache != nil {
		l.cache.Stop()
	}
	return nil
}

var _ ports.MediaLoader = (*Loader)(nil)

func (l *Loader) Load(ctx context.Context, kind domain.SourceKind, origin string, loop bool) (ports.FrameDecoder, error) {
	data, tainted, err := l.fetch(ctx, origin)
	if err != nil {
		return nil, err
	}
	dec, err := Decode(kind, data, loop, tainted, l.limits)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", origin, err)
	}
	w, h := dec.Size()
	l.logger.Debugw("media decoded",
		"kind", kind,
		"origin", utils.ShortOrigin(origin),
		"width", w,
		"height", h,
		"tainted", tainted,
	)
	return dec, nil
}

// Decode builds a decoder from encoded bytes. Clips encoded as GIF are
// animated; any other image becomes a still. Declared sizes are checked
// against limits before pixel data is decoded.
func Decode(kind domain.SourceKind, data []byte, loop, tainted bool, limits DecodeLimits) (ports.FrameDecoder, error) {
	limits = limits.withDefaults()

	if kind == domain.SourceClip && bytes.HasPrefix(data, []byte("GIF8")) {
		cfg, err := gif.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if err := limits.checkImage(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
		frames, area, err := scanGIF(data)
		if err != nil {
			return nil, err
		}
		if frames == 0 {
			return nil, fmt.Errorf("gif has no frames")
		}
		if area > limits.MaxClipPixels {
			return nil, fmt.Errorf("%w: %d frames covering %d pixels, limit %d", ErrTooLarge, frames, area, limits.MaxClipPixels)
		}

		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if len(g.Image) == 0 {
			return nil, fmt.Errorf("gif has no frames")
		}
		return NewClipDecoder(g, loop, tainted), nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := limits.checkImage(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return NewStillDecoder(img, tainted), nil
}

func (l *Loader) fetch(ctx context.Context, origin string) ([]byte, bool, error) {
	if origin == "" {
		return nil, false, domain.ErrInvalidOrigin
	}
	if strings.HasPrefix(origin, "data:") {
		data, err := decodeDataURL(origin)
		return data, false, err
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidOrigin, err)
	}
	switch u.Scheme {
	case "", "file":
		path := u.Path
		if path == "" {
			path = origin
		}
		data, err := l.readFile(path)
		return data, false, err
	case "http", "https":
		return l.fetchHTTP(ctx, u)
	default:
		return nil, false, fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidOrigin, u.Scheme)
	}
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, path, l.maxBytes)
	}
	return data, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, u *url.URL) ([]byte, bool, error) {
	key := u.String()
	if l.cache != nil {
		if f, ok := l.cache.Get(key); ok {
			return f.data, f.tainted, nil
		}
	}

	f, err := retry.Do(ctx, l.retry, func(ctx context.Context) (fetched, error) {
		return l.get(ctx, u)
	})
	if err != nil {
		return nil, false, err
	}
	if l.cache != nil {
		l.cache.Set(key, f)
	}
	return f.data, f.tainted, nil
}

func (l *Loader) get(ctx context.Context, u *url.URL) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fetched{}, retry.Permanent(err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
		if resp.StatusCode < 500 {
			return fetched{}, retry.Permanent(err)
		}
		l.logger.Debugw("retryable fetch failure", "url", u.String(), "status", resp.StatusCode)
		return fetched{}, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return fetched{}, fmt.Errorf("read %s: %w", u, err)
	}
	if int64(len(data)) > l.maxBytes {
		return fetched{}, retry.Permanent(fmt.Errorf("%w: fetch %s: larger than %d bytes", ErrTooLarge, u, l.maxBytes))
	}
	tainted := !l.sameOrigin(u) && !l.corsAllows(resp.Header.Get("Access-Control-Allow-Origin"))
	return fetched{data: data, tainted: tainted}, nil
}

func (l *Loader) sameOrigin(u *url.URL) bool {
	return l.allowed[u.Scheme+"://"+u.Host]
}

func (l *Loader) corsAllows(header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	return header == "*" || l.allowed[strings.TrimRight(header, "/")]
}

func decodeDataURL(origin string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(origin, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data url", domain.ErrInvalidOrigin)
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrigin, err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOrigin, err)
	}
	return []byte(s), nil
}
