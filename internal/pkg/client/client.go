package client

import "net/http"

// WebshipBaseClient bundles the connection parameters shared by API clients.
type WebshipBaseClient struct {
	WebshipURL string
	Client     *http.Client
	Token      string
}

// NewBaseClient returns a base client for the given server URL. The token may
// be empty when the server does not require one.
func NewBaseClient(serverURL, token string) *WebshipBaseClient {
	return &WebshipBaseClient{
		WebshipURL: serverURL,
		Client:     http.DefaultClient,
		Token:      token,
	}
}
