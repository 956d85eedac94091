// Package upload stores user supplied images (avatars) on local disk and
// serves them back under a public base URL.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxBytes caps a single asset at 1 MiB.
const DefaultMaxBytes = 1 << 20

var (
	ErrUnsupportedType = errors.New("upload: unsupported file type")
	ErrTooLarge        = errors.New("upload: file too large")
	ErrInvalidURL      = errors.New("upload: invalid image url")
	ErrBlockedHost     = errors.New("upload: host not allowed")
	ErrEmpty           = errors.New("upload: empty file")
)

// allowed maps sniffed content types onto the extension files are stored with.
var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

var allowedExt = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {},
}

// Config configures a DiskUploader.
type Config struct {
	Dir      string
	BaseURL  string // e.g. "/uploads" or "https://cdn.example.com/uploads"
	MaxBytes int64

	FetchTimeout time.Duration
	// AllowPrivateHosts permits FromURL to reach loopback and private
	// networks. Only tests should set it.
	AllowPrivateHosts bool
}

// DiskUploader validates images and writes them under Dir.
type DiskUploader struct {
	dir      string
	baseURL  string
	maxBytes int64
	client   *http.Client
}

func NewDiskUploader(cfg Config) (*DiskUploader, error) {
	if cfg.Dir == "" {
		return nil, errors.New("upload: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("upload: create dir: %w", err)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if !cfg.AllowPrivateHosts {
		dialer.Control = publicOnly
	}
	// No proxy: publicOnly must see the real destination address.
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.FetchTimeout,
		MaxIdleConns:          4,
	}

	return &DiskUploader{
		dir:      cfg.Dir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxBytes: cfg.MaxBytes,
		client: &http.Client{
			Timeout:   cfg.FetchTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return errors.New("too many redirects")
				}
				return checkScheme(req.URL)
			},
		},
	}, nil
}

// FromBytes validates data and stores it, returning the public asset URL.
// filename is only used for its extension.
func (u *DiskUploader) FromBytes(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if int64(len(data)) > u.maxBytes {
		return "", ErrTooLarge
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if _, ok := allowedExt[ext]; !ok {
			return "", fmt.Errorf("%w: extension %s", ErrUnsupportedType, ext)
		}
	}

	contentType := http.DetectContentType(data)
	ext, ok := allowed[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	name := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(u.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("upload: create: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("upload: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("upload: close: %w", err)
	}

	return u.baseURL + "/" + name, nil
}

// FromURL downloads a remote image and stores it like FromBytes.
func (u *DiskUploader) FromURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ErrInvalidURL
	}
	if err := checkScheme(parsed); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", ErrInvalidURL
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp")

	resp, err := u.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlockedHost) {
			return "", ErrBlockedHost
		}
		return "", fmt.Errorf("upload: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: remote returned %d", ErrInvalidURL, resp.StatusCode)
	}
	if resp.ContentLength > u.maxBytes {
		return "", ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("upload: read: %w", err)
	}
	if int64(len(data)) > u.maxBytes {
		return "", ErrTooLarge
	}

	return u.FromBytes(ctx, path.Base(parsed.Path), data)
}

// Handler serves stored assets. Directory listings are refused.
func (u *DiskUploader) Handler() http.Handler {
	fs := http.FileServer(http.Dir(u.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		fs.ServeHTTP(w, r)
	})
}

func checkScheme(u *url.URL) error {
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return ErrInvalidURL
	}
	return nil
}

// publicOnly runs after DNS resolution, so it sees the address actually
// being dialled.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return ErrBlockedHost
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return ErrBlockedHost
	}
	return nil
}
