// Package coreapi is the HTTP client of the platform core billing API.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"selfpm/pkg/core"
)

const maxErrorBody = 512

// Config configures the billing API client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries applies to reads only. Removals and payments are sent once.
	Retries int
	Logger  *log.Logger
}

// Client calls the billing API.
type Client struct {
	baseURL string
	token   string
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
}

// New returns a Client for cfg.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("core base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("core base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		reads:   newHTTPClient(cfg, cfg.Retries),
		writes:  newHTTPClient(cfg, 0),
	}, nil
}

func newHTTPClient(cfg Config, retries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger
	}
	return client
}

type contractDTO struct {
	RepoFullName     string     `json:"repo_full_name"`
	Contributor      string     `json:"contributor"`
	Provider         string     `json:"provider"`
	Role             string     `json:"role"`
	MarkedForRemoval *time.Time `json:"marked_for_removal"`
}

type invoiceDTO struct {
	ID          string `json:"id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Paid        bool   `json:"paid"`
}

type paymentDTO struct {
	Status     string `json:"status"`
	FailReason string `json:"fail_reason"`
}

// Contracts lists the contracts of a project.
func (c *Client) Contracts(ctx context.Context, provider, fullName string) ([]core.Contract, error) {
	var rows []contractDTO
	if err := c.do(ctx, c.reads, http.MethodGet, "/api/projects/"+projectPath(provider, fullName)+"/contracts", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]core.Contract, 0, len(rows))
	for _, row := range rows {
		id := core.ContractID{
			RepoFullName: row.RepoFullName,
			Contributor:  row.Contributor,
			Provider:     row.Provider,
			Role:         row.Role,
		}
		if id.RepoFullName == "" {
			id.RepoFullName = fullName
		}
		if id.Provider == "" {
			id.Provider = provider
		}
		out = append(out, &contract{client: c, id: id, marked: row.MarkedForRemoval})
	}
	return out, nil
}

// Wallet returns the wallet of a project.
func (c *Client) Wallet(provider, fullName string) core.Wallet {
	return &wallet{client: c, provider: provider, fullName: fullName}
}

type wallet struct {
	client   *Client
	provider string
	fullName string
}

func (w *wallet) Pay(ctx context.Context, invoice core.Invoice) (core.Payment, error) {
	body := map[string]string{"invoice_id": invoice.ID}
	var out paymentDTO
	path := "/api/projects/" + projectPath(w.provider, w.fullName) + "/wallet/payments"
	if err := w.client.do(ctx, w.client.writes, http.MethodPost, path, body, &out); err != nil {
		return core.Payment{}, err
	}
	return core.Payment{Status: out.Status, FailReason: out.FailReason}, nil
}

type contract struct {
	client *Client
	id     core.ContractID
	marked *time.Time
}

func (c *contract) ID() core.ContractID          { return c.id }
func (c *contract) MarkedForRemoval() *time.Time { return c.marked }

func (c *contract) path() string {
	return "/api/contracts/" + projectPath(c.id.Provider, c.id.RepoFullName) + "/" +
		url.PathEscape(c.id.Contributor) + "/" + url.PathEscape(c.id.Role)
}

func (c *contract) Invoices(ctx context.Context) ([]core.Invoice, error) {
	var rows []invoiceDTO
	if err := c.client.do(ctx, c.client.reads, http.MethodGet, c.path()+"/invoices", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]core.Invoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Invoice{ID: row.ID, TotalAmount: row.TotalAmount, Currency: row.Currency, Paid: row.Paid})
	}
	return out, nil
}

func (c *contract) Remove(ctx context.Context) error {
	return c.client.do(ctx, c.client.writes, http.MethodDelete, c.path(), nil, nil)
}

// projectPath renders provider/owner/repo with the owner escaped as one
// segment so nested GitLab groups survive.
func projectPath(provider, fullName string) string {
	owner, name := core.SplitFullName(fullName)
	return url.PathEscape(provider) + "/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, client *retryablehttp.Client, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("core %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("core %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("core %s %s: decode: %w", method, path, err)
	}
	return nil
}
