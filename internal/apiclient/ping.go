package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// PingTimeout bounds the connectivity check.
const PingTimeout = 3 * time.Second

// Connectivity is the result of probing the backend.
type Connectivity struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Ping checks that the backend answers at all. Any HTTP response counts as
// reachable; the failure message tells a timeout from a refused connection.
func (c *Client) Ping(ctx context.Context) Connectivity {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return Connectivity{Message: fmt.Sprintf("Connection failed: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ne net.Error
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
			return Connectivity{Message: "Request timed out - server may not be responding or may be taking too long to respond"}
		case errors.Is(err, syscall.ECONNREFUSED):
			return Connectivity{Message: "Connection refused - backend server is not running or not accessible on the specified port"}
		default:
			return Connectivity{Message: fmt.Sprintf("Connection failed: %v", err)}
		}
	}
	resp.Body.Close()

	return Connectivity{
		Success: true,
		Message: fmt.Sprintf("API is accessible. Status: %s", resp.Status),
		Status:  resp.StatusCode,
	}
}
