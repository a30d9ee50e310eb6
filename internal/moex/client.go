package moex

import (
	"net/http"
	"time"

	"github.com/camuig/autopilot/internal/logger"
)

const defaultBaseURL = "https://iss.moex.com"

type Client struct {
	httpClient *http.Client
	baseURL    string
	topN       int
	logger     *logger.Logger
}

// NewClient returns an ISS client. topN bounds the universe when none is configured.
func NewClient(topN int, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		topN:       topN,
		logger:     log,
	}
}

// WithBaseURL points the client at another ISS host.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}
