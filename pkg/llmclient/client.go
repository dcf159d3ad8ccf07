package llmclient

import (
	"net/http"
	"time"

	"github.com/kadirpekel/promptengine/pkg/config"
	"github.com/kadirpekel/promptengine/pkg/httpclient"
)

// newHTTPClient builds the retrying client every provider shares,
// grounded on the teacher's createHTTPClient (pkg/llms/openai.go):
// per-provider timeout and bounded retries, no TLS override surface
// since this engine's LLMConfig carries none.
func newHTTPClient(cfg config.LLMConfig, opts ...httpclient.Option) *httpclient.Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	base := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
	}
	return httpclient.New(append(base, opts...)...)
}
