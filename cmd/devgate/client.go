package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"devgate/internal/supervisor"
)

// APIClient talks to the admin API of a running devgate daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9072/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks whether the daemon answers on the admin address.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// StatusAll fetches the whole process table.
func (c *APIClient) StatusAll() ([]supervisor.Snapshot, error) {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var snaps []supervisor.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Status fetches a single domain's record.
func (c *APIClient) Status(domain string) (supervisor.Snapshot, error) {
	resp, err := c.client.Get(c.baseURL + "/status?domain=" + url.QueryEscape(domain))
	if err != nil {
		return supervisor.Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return supervisor.Snapshot{}, decodeError(resp)
	}
	var snap supervisor.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return supervisor.Snapshot{}, err
	}
	return snap, nil
}

func (c *APIClient) Start(domain string, manual bool) error {
	u := c.baseURL + "/start?domain=" + url.QueryEscape(domain)
	if manual {
		u += "&manual=1"
	}
	return c.post(u)
}

func (c *APIClient) Stop(domain string, force bool) error {
	u := c.baseURL + "/stop?domain=" + url.QueryEscape(domain)
	if force {
		u += "&force=1"
	}
	return c.post(u)
}

func (c *APIClient) Restart(domain string) error {
	return c.post(c.baseURL + "/restart?domain=" + url.QueryEscape(domain))
}

func (c *APIClient) Reload() error {
	return c.post(c.baseURL + "/reload")
}

func (c *APIClient) post(u string) error {
	resp, err := c.client.Post(u, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
