// Package collyfetcher implements fetcher.Getter using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/property-monitor/internal/fetcher"
)

const (
	defaultTimeout  = 15 * time.Second
	acceptHeader    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptEncoding  = "gzip, br"
	acceptLanguage  = "en-GB,en;q=0.9"
	defaultMaxBytes = 10 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	Timeout     time.Duration
	MaxBodySize int
}

// Getter issues single GET requests through a Colly collector. Non-2xx
// responses are returned to the caller rather than reported as errors.
type Getter struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Getter.
func New(cfg Config) *Getter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	// Clones share the backend, so the client timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Getter{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes a single HTTP GET.
func (g *Getter) Get(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := g.baseCollector.Clone()
	collector.Context = ctx
	if req.UserAgent != "" {
		collector.UserAgent = req.UserAgent
	}
	g.configureCollectorHooks(collector, &result, &fetchErr)

	if err := g.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	return result, nil
}

func (g *Getter) configureCollectorHooks(
	hooks collectorHooks,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Encoding", acceptEncoding)
		r.Headers.Set("Accept-Language", acceptLanguage)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		body, err := decodeBody(header.Get("Content-Encoding"), r.Body)
		if err != nil {
			*fetchErr = err
			return
		}
		*result = fetcher.Response{
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       body,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (g *Getter) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// decodeBody undoes brotli compression. Colly already inflates gzip bodies.
func decodeBody(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "br":
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli decode: %w", err)
		}
		return decoded, nil
	default:
		return append([]byte(nil), body...), nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
