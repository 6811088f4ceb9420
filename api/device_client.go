package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	probe "github.com/TimeWtr/probe_scheduler"
	"github.com/TimeWtr/probe_scheduler/domain"
)

// HTTPDeviceClient 通过设备网关下发任务
// 请求为 POST {endpoint}/devices/{device}/measurements，body为任务的JSON
type HTTPDeviceClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPDeviceClient(endpoint string, client *http.Client) *HTTPDeviceClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDeviceClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

func (c *HTTPDeviceClient) Name() string {
	return "http"
}

func (c *HTTPDeviceClient) Dispatch(ctx context.Context, deviceID string, job *probe.Job) error {
	body, err := json.Marshal(domain.FromJob(job))
	if err != nil {
		return err
	}

	target := fmt.Sprintf("%s/devices/%s/measurements", c.endpoint, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("device %s responded %d", deviceID, resp.StatusCode)
	}
	return nil
}
