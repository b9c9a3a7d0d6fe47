package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Limiter ist die Schnittstelle, über die der Fetcher vor jedem Versuch wartet.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config steuert Timeout, Retries und Backoff des Fetchers.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	BackoffStatuses []int
}

// Fetcher führt GET-Anfragen über den RateLimiter mit Retry und exponentiellem
// Backoff aus.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter Limiter
	logger  *zap.Logger
	backoff map[int]bool

	// austauschbar für Tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// userAgentTransport fügt jeder Anfrage den konfigurierten User-Agent hinzu.
type userAgentTransport struct {
	userAgent string
	transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// NewTransport erstellt einen HTTP/2-fähigen Transport. timeout begrenzt
// Verbindungsaufbau, TLS-Handshake und das Warten auf die Antwort-Header,
// nicht aber die Übertragung des Bodys.
func NewTransport(timeout time.Duration) (*http.Transport, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if _, err := http2.ConfigureTransports(t); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return t, nil
}

// New erstellt einen Fetcher. Ist client nil, wird ein Client mit HTTP/2-Transport
// angelegt. cfg.Timeout gilt pro Phase: bis zu den Antwort-Headern und danach
// als Leerlauf zwischen zwei Lesevorgängen am Body. Ein langsam, aber stetig
// übertragener Download wird nicht abgebrochen.
func New(cfg Config, client *http.Client, limiter Limiter, logger *zap.Logger) (*Fetcher, error) {
	if limiter == nil {
		return nil, fmt.Errorf("fetcher requires a rate limiter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		transport, err := NewTransport(cfg.Timeout)
		if err != nil {
			return nil, err
		}
		client = &http.Client{Transport: transport}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	// Redirects folgt der Client standardmäßig. Kein Client.Timeout, das würde
	// auch das Lesen des Bodys begrenzen.
	wrapped := *client
	wrapped.Transport = &userAgentTransport{userAgent: cfg.UserAgent, transport: base}
	wrapped.Timeout = 0

	backoff := make(map[int]bool, len(cfg.BackoffStatuses))
	for _, s := range cfg.BackoffStatuses {
		backoff[s] = true
	}

	return &Fetcher{
		cfg:     cfg,
		client:  &wrapped,
		limiter: limiter,
		logger:  logger,
		backoff: backoff,
		sleep:   sleepContext,
		jitter:  rand.Float64,
	}, nil
}

// Get lädt rawURL. Bei Transportfehlern und Backoff-Status wird bis zu
// MaxRetries mal erneut versucht; jeder Versuch wartet vorher auf den Limiter.
// Eine erfolgreiche Antwort wird ohne Prüfung des Bodys zurückgegeben, der
// Aufrufer muss resp.Body schließen.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	log := f.logger.With(zap.String("url", rawURL))
	attempts := f.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt, Err: err}
		}

		resp, err := f.do(ctx, rawURL)
		switch {
		case err != nil:
			lastErr = err
		case f.backoff[resp.StatusCode]:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		default:
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt + 1, Err: ctx.Err()}
		}
		if attempt == attempts-1 {
			break
		}

		delay := f.backoffDelay(attempt)
		log.Warn("Fetch-Versuch fehlgeschlagen, Backoff",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		if err := f.sleep(ctx, delay); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt + 1, Err: err}
		}
	}

	log.Error("Fetch nach allen Versuchen fehlgeschlagen", zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, &FetchError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// do führt einen Versuch aus. Ein Timer bricht die Anfrage ab, wenn bis zu den
// Headern oder zwischen zwei Lesevorgängen am Body länger als cfg.Timeout
// nichts passiert.
func (f *Fetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}

	var idle *time.Timer
	if f.cfg.Timeout > 0 {
		idle = time.AfterFunc(f.cfg.Timeout, cancel)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if idle != nil {
			idle.Stop()
		}
		cancel()
		if ctx.Err() == nil && reqCtx.Err() != nil {
			err = fmt.Errorf("no response within %s: %w", f.cfg.Timeout, err)
		}
		return nil, err
	}
	resp.Body = &idleTimeoutBody{ReadCloser: resp.Body, timer: idle, timeout: f.cfg.Timeout, cancel: cancel}
	return resp, nil
}

// idleTimeoutBody verlängert den Timer bei jedem Lesevorgang mit Daten.
type idleTimeoutBody struct {
	io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// backoffDelay berechnet 2^attempt Sekunden plus Jitter in [0, 1) Sekunden.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt)) + f.jitter()
	return time.Duration(secs * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
