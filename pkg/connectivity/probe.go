package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/irisware/go-iris/internal/httpc"
)

// HTTPProbe returns a ProbeFunc that GETs the given URL (normally the
// gateway /healthz endpoint) and treats anything but 200 as a failure.
// A nil client falls back to the shared httpc client.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = httpc.Client
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}
