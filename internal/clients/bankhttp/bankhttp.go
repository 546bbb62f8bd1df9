// Package bankhttp is a reconcile.Backend that talks to bankd over HTTP.
package bankhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fastprodman/balancesync/internal/config"
	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/fastprodman/balancesync/internal/services/reconcile"
)

var ErrUnexpectedResponse = errors.New("unexpected bank response")

// StatusError is an answer that decides nothing, a 5xx or a transient 4xx
// (408, 429): the outcome of a submit is unknown.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bank responded %d: %s", e.Code, e.Body)
}

type Client struct {
	base     string
	playerID uint64
	http     *http.Client
}

var _ reconcile.Backend = (*Client)(nil)

func New(cfg config.BankClientConfig) *Client {
	return NewWithHTTPClient(cfg.URL, cfg.PlayerID, &http.Client{Timeout: cfg.Timeout})
}

func NewWithHTTPClient(baseURL string, playerID uint64, hc *http.Client) *Client {
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		playerID: playerID,
		http:     hc,
	}
}

type balanceResponse struct {
	PlayerID        uint64      `json:"playerId"`
	Cash            money.Money `json:"cash"`
	BankBalance     money.Money `json:"bankBalance"`
	ServerTimestamp time.Time   `json:"serverTimestamp"`
}

// Submit posts one transaction. A 4xx is a definitive rejection, except 408
// and 429; those, a 5xx or a transport failure are returned as an error.
func (c *Client) Submit(ctx context.Context, req reconcile.Request) (reconcile.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return reconcile.Response{}, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/players/%d/transactions", c.base, c.playerID)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return reconcile.Response{}, fmt.Errorf("build request: %w", err)
	}

	hreq.Header.Set("Content-Type", "application/json")

	status, raw, err := c.do(hreq)
	if err != nil {
		return reconcile.Response{}, err
	}

	if status >= http.StatusInternalServerError || transient(status) {
		return reconcile.Response{}, &StatusError{Code: status, Body: strings.TrimSpace(string(raw))}
	}

	var resp reconcile.Response

	decErr := json.Unmarshal(raw, &resp)

	switch {
	case status == http.StatusOK:
		if decErr != nil || resp.Status != reconcile.StatusConfirmed {
			return reconcile.Response{}, fmt.Errorf("%w: 200 with %q", ErrUnexpectedResponse, raw)
		}

		return resp, nil
	case status >= http.StatusBadRequest:
		if decErr != nil || resp.Reason == "" {
			resp.Reason = fmt.Sprintf("http_%d", status)
		}

		resp.Status = reconcile.StatusRejected

		return resp, nil
	default:
		return reconcile.Response{}, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, status)
	}
}

func (c *Client) FetchBalances(ctx context.Context) (ledger.Balances, time.Time, error) {
	url := fmt.Sprintf("%s/players/%d/balance", c.base, c.playerID)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ledger.Balances{}, time.Time{}, fmt.Errorf("build request: %w", err)
	}

	status, raw, err := c.do(hreq)
	if err != nil {
		return ledger.Balances{}, time.Time{}, err
	}

	if status != http.StatusOK {
		return ledger.Balances{}, time.Time{}, &StatusError{Code: status, Body: strings.TrimSpace(string(raw))}
	}

	var br balanceResponse

	err = json.Unmarshal(raw, &br)
	if err != nil {
		return ledger.Balances{}, time.Time{}, fmt.Errorf("decode balance: %w", err)
	}

	return ledger.Balances{Cash: br.Cash, BankBalance: br.BankBalance}, br.ServerTimestamp, nil
}

func transient(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, raw, nil
}
