package polymarket

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// errServerStatus marks 5xx responses so the retry loop can tell them apart
// from permanent client errors.
var errServerStatus = errors.New("server error")

// retryPolicy controls transient-failure retries for the REST clients.
// Rate limits and server errors are retried with doubling backoff; client
// errors are returned immediately.
type retryPolicy struct {
	max  int
	base time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{max: 3, base: time.Second}
}

// backoff returns the delay before the given attempt (1-based).
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// retry runs fn until it succeeds, fails permanently, or attempts run out.
func (p retryPolicy) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt >= p.max {
			return err
		}
		timer := time.NewTimer(p.backoff(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, errServerStatus)
}

// l2Signer produces the POLY_* authentication headers for CLOB endpoints
// that require API credentials. The signature is an HMAC-SHA256 over
// timestamp+method+path(+body) keyed with the url-base64 decoded secret.
type l2Signer struct {
	apiKey     string
	secret     string
	passphrase string
}

func (s *l2Signer) configured() bool {
	return s != nil && s.apiKey != "" && s.secret != ""
}

func (s *l2Signer) sign(req *http.Request, body []byte) error {
	key, err := base64.URLEncoding.DecodeString(s.secret)
	if err != nil {
		return fmt.Errorf("polymarket: decode api secret: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := ts + req.Method + req.URL.Path
	if len(body) > 0 {
		msg += string(body)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("POLY_API_KEY", s.apiKey)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_PASSPHRASE", s.passphrase)
	return nil
}
