package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sethvargo/go-retry"
)

// doFetchWithRetry sends the outbound request, retrying on a configured
// status (default 429/500/502/503/504) or a transport-level error with
// exponential backoff, up to cfg.MaxRetries extra attempts. The response
// from the final attempt is always returned (even a retryable status) so
// the caller can translate it as a normal upstream error rather than a
// pipeline failure.
func (p *Pipeline) doFetchWithRetry(ctx context.Context, rt Route, model string, body []byte, header, value string) (*http.Response, error) {
	maxAttempts := p.cfg.MaxRetries + 1
	attempt := 0
	var lastResp *http.Response

	backoff, err := retry.NewExponential(p.cfg.RetryDelay)
	if err != nil {
		return nil, err
	}
	backoff = retry.WithMaxRetries(uint64(p.cfg.MaxRetries), backoff)

	doErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := p.newRequest(ctx, rt, model, body, header, value)
		if err != nil {
			return err
		}
		resp, err := p.http.Do(req)
		if err != nil {
			if attempt < maxAttempts {
				return retry.RetryableError(err)
			}
			return err
		}
		if p.cfg.RetryOn[resp.StatusCode] && attempt < maxAttempts {
			resp.Body.Close()
			return retry.RetryableError(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		lastResp = resp
		return nil
	})
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, doErr
}
