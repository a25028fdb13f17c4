package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxBodyBytes = 8 << 20 // 8MB，防止超大响应

// get 发起一次带 UA 与 Accept 头的 GET，非 2xx 视为失败
func (o Options) get(ctx context.Context, target, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", target, err)
	}
	req.Header.Set("User-Agent", o.userAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := o.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return body, nil
}
