package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// CheckEndpoints hits the bridge's channel, guide and health endpoints at
// baseURL and returns the first error or nil. Used by the -healthcheck flag
// so a container HEALTHCHECK can probe the running service.
func CheckEndpoints(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/channels.json", "/guide.json", "/healthz"} {
		url := baseURL + path
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}
