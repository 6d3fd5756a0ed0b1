// Package digest derives a tiny blurred placeholder from an author image.
// The placeholder is the image scaled down to a few pixels wide, re-encoded
// as PNG and wrapped in a base64 data URL.
package digest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const dataURLPrefix = "data:image/png;base64,"

// ImageDigest is the placeholder for one source image.
type ImageDigest struct {
	SourceURL string `json:"sourceUrl"`
	Digest    string `json:"digest"`
}

// Encode decodes image bytes (PNG, JPEG, GIF or WebP), scales the image to
// width pixels wide keeping its aspect ratio and returns a PNG data URL.
// Equal input always gives equal output.
func Encode(data []byte, width int) (string, error) {
	if width <= 0 {
		return "", fmt.Errorf("digest width must be positive, got %d", width)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return "", fmt.Errorf("decoding %s image: empty bounds", format)
	}

	height := (b.Dy()*width + b.Dx()/2) / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return "", fmt.Errorf("encoding placeholder: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Computer fetches images over HTTP and encodes their placeholders.
type Computer struct {
	httpClient *http.Client
	width      int
	maxBytes   int64
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewComputer creates a Computer. timeout bounds fetch plus encode; m may
// be nil.
func NewComputer(cfg config.DigestConfig, timeout time.Duration, m *metrics.Metrics) *Computer {
	return &Computer{
		httpClient: &http.Client{},
		width:      cfg.Width,
		maxBytes:   cfg.MaxImageBytes,
		timeout:    timeout,
		metrics:    m,
		logger:     slog.Default().With("component", "digest"),
	}
}

// WithHTTPClient replaces the transport. Used by tests.
func (c *Computer) WithHTTPClient(hc *http.Client) *Computer {
	c.httpClient = hc
	return c
}

// Compute fetches url and returns its placeholder. Every failure wraps
// apperrors.ErrDigestComputation.
func (c *Computer) Compute(ctx context.Context, url string) (ImageDigest, error) {
	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := c.fetch(ctx, url)
	if err != nil {
		return ImageDigest{}, apperrors.Wrap(apperrors.ErrDigestComputation, err, "fetching %s", url)
	}
	encoded, err := Encode(data, c.width)
	if err != nil {
		return ImageDigest{}, apperrors.Wrap(apperrors.ErrDigestComputation, err, "encoding %s", url)
	}

	if c.metrics != nil {
		c.metrics.DigestComputeDuration.Observe(time.Since(start).Seconds())
	}
	c.logger.Debug("digest computed", "url", url, "bytes", len(data), "duration", time.Since(start))
	return ImageDigest{SourceURL: url, Digest: encoded}, nil
}

func (c *Computer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image host returned HTTP %d", resp.StatusCode)
	}

	limit := c.maxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image larger than %d bytes", limit)
	}
	return data, nil
}
