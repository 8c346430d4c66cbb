package client

import (
	"context"
	"fmt"
	"time"
)

// DirectoryClient implements UserDirectory against the platform user
// directory service.
type DirectoryClient struct {
	http *httpClient
}

// NewDirectoryClient creates a directory client for the given base URL.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{http: newHTTPClient(baseURL, timeout)}
}

type resolveUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

type resolveUsersResponse struct {
	UserIDs []string `json:"user_ids"`
}

// ResolveExisting returns the subset of the given user ids that exist and
// are active, resolved in a single batch call.
func (c *DirectoryClient) ResolveExisting(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var resp resolveUsersResponse
	err := c.http.postJSON(ctx, "/api/v1/users/resolve", resolveUsersRequest{UserIDs: userIDs}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users: %w", err)
	}
	return resp.UserIDs, nil
}
