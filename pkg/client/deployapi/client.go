// Package deployapi provides a client for the webship server API.
package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/internal/pkg/api/apicommon"
	"github.com/unbasical/webship/internal/pkg/client"
	"github.com/unbasical/webship/internal/pkg/utils/buildurl"
	"github.com/unbasical/webship/internal/pkg/utils/funcutils"
	backoff2 "github.com/unbasical/webship/pkg/backoff"
)

// DeployApiClient abstracts around a client that can trigger and observe
// deployments on webship servers.
type DeployApiClient interface {
	CreateDeployment(ctx context.Context, environment, snapshotRef string) (string, error)
	GetDeployment(ctx context.Context, id string) (*apicommon.DeploymentResponse, error)
	WaitForCompletion(ctx context.Context, id string) (*apicommon.DeploymentResponse, error)
	ListEnvironments(ctx context.Context) ([]string, error)
}

type deployApiClient struct {
	base    *client.WebshipBaseClient
	backoff backoff2.Factory
}

// NewClient returns a client that can be used to interact with the webship
// server API. token may be empty when the server does not require one.
func NewClient(serverURL, token string) DeployApiClient {
	return &deployApiClient{
		base:    client.NewBaseClient(serverURL, token),
		backoff: backoff2.DefaultFactory(),
	}
}

func (c *deployApiClient) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.base.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.base.Token)
	}
	return req, nil
}

// decodeError turns a non-2xx response body into an APIError if possible.
func decodeError(resp *http.Response) error {
	var apiErr apicommon.APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.InnerError.Code == 0 {
		return errors.New(resp.Status)
	}
	return apiErr
}

// CreateDeployment asks the server to deploy a snapshot to an environment and
// returns the run ID. It does not wait for the run to finish.
func (c *deployApiClient) CreateDeployment(ctx context.Context, environment, snapshotRef string) (string, error) {
	url := buildurl.New(
		buildurl.WithBasePath(c.base.WebshipURL),
		buildurl.WithPathElement(apicommon.ApiBasePathV1),
		buildurl.WithPathElement(apicommon.DeploymentsApiPath),
	)
	body, err := json.Marshal(apicommon.CreateDeploymentRequest{
		Environment: environment,
		SnapshotRef: snapshotRef,
	})
	if err != nil {
		return "", err
	}
	log.Debugf("sending deployment request to %s", url)
	req, err := c.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	resp, err := c.base.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close response body")
	if resp.StatusCode != http.StatusAccepted {
		return "", decodeError(resp)
	}
	var resBody apicommon.CreateDeploymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&resBody); err != nil {
		return "", err
	}
	if resBody.ID == "" {
		return "", fmt.Errorf("server accepted the deployment but returned no run id")
	}
	return resBody.ID, nil
}

// GetDeployment fetches the current state of a deployment run.
func (c *deployApiClient) GetDeployment(ctx context.Context, id string) (*apicommon.DeploymentResponse, error) {
	url := buildurl.New(
		buildurl.WithBasePath(c.base.WebshipURL),
		buildurl.WithPathElement(apicommon.ApiBasePathV1),
		buildurl.WithPathElement(apicommon.DeploymentsApiPath),
		buildurl.WithPathElement(id),
	)
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.base.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close response body")
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var resBody apicommon.DeploymentResponse
	decoder := json.NewDecoder(resp.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&resBody); err != nil {
		return nil, err
	}
	return &resBody, nil
}

// WaitForCompletion polls a deployment run until it reaches a terminal state.
// The backoff strategy bounds the number of polls.
func (c *deployApiClient) WaitForCompletion(ctx context.Context, id string) (*apicommon.DeploymentResponse, error) {
	strategy := c.backoff()
	for {
		response, err := c.GetDeployment(ctx, id)
		if err != nil {
			return nil, err
		}
		if response.State.IsTerminal() {
			return response, nil
		}
		log.Debugf("run %q still in state %s, trying again after waiting period", id, response.State)
		if err := strategy.Wait(); err != nil {
			return nil, err
		}
	}
}

// ListEnvironments returns the environments the server can deploy to.
func (c *deployApiClient) ListEnvironments(ctx context.Context) ([]string, error) {
	url := buildurl.New(
		buildurl.WithBasePath(c.base.WebshipURL),
		buildurl.WithPathElement(apicommon.ApiBasePathV1),
		buildurl.WithPathElement(apicommon.EnvironmentsApiPath),
	)
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.base.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close response body")
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var resBody apicommon.ListEnvironmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&resBody); err != nil {
		return nil, err
	}
	return resBody.Environments, nil
}
