// Package client talks to a running txsim server: the REST endpoints for
// test cases and reports, and the log stream as an execution.Feed.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"txsim-server/packages/common"
	"txsim-server/packages/execution"
	"txsim-server/packages/report"
	"txsim-server/packages/store"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// New builds a client for the server at baseURL. A nil httpClient gets one
// without an overall timeout, since log streams run for as long as the test
// case's expected time.
func New(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

func (c *Client) List(ctx context.Context) ([]store.TransactionRecord, error) {
	var records []store.TransactionRecord
	if err := c.getJSON(ctx, "/test-cases", &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) Get(ctx context.Context, id int) (*store.TestCaseDetail, error) {
	var detail store.TestCaseDetail
	if err := c.getJSON(ctx, fmt.Sprintf("/test-cases/%d", id), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) Report(ctx context.Context, id int) (*report.Report, error) {
	var rep report.Report
	if err := c.getJSON(ctx, fmt.Sprintf("/reports/%d", id), &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	return nil
}

// responseError turns an error response back into the common taxonomy so
// callers can match it with errors.Is.
func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return errors.Wrap(common.ErrInvalidID, body.Error)
	case http.StatusNotFound:
		return errors.Wrap(common.ErrNotFound, body.Error)
	case http.StatusUnprocessableEntity:
		return errors.Wrap(common.ErrInvalidConfiguration, body.Error)
	default:
		return errors.Wrapf(common.ErrInternal, "status %d: %s", resp.StatusCode, body.Error)
	}
}

// Source opens remote log streams for an execution.Controller.
type Source struct {
	Client *Client
}

func (s Source) Open(ctx context.Context, testID int) (execution.Feed, error) {
	feed, err := s.Client.Open(ctx, testID)
	if err != nil {
		return nil, err
	}
	return feed, nil
}
