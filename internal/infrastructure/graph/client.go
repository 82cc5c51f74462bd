// Package graph is a thin Microsoft Graph adapter for the user operations a
// hard match needs: lookup by key, attribute update and paged listing.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

const (
	DefaultBaseURL      = "https://graph.microsoft.com/v1.0"
	DefaultAuthorityURL = "https://login.microsoftonline.com"
	defaultScope        = "https://graph.microsoft.com/.default"
	defaultTimeout      = 30 * time.Second
	defaultRetryDelay   = time.Second
	maxRetryDelay       = 30 * time.Second
	pageSize            = 999
)

var userProperties = []string{"id", "userPrincipalName", "givenName", "surname", "onPremisesImmutableId"}

// Config configures the client.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthorityURL string
	Timeout      time.Duration
	MaxRetries   uint
	// RetryDelay is the initial backoff between retries.
	RetryDelay time.Duration
}

// Client implements ports.RemoteIdentityClient against Microsoft Graph.
type Client struct {
	http       *http.Client
	baseURL    string
	maxRetries uint
	retryDelay time.Duration
	logger     ports.Logger
}

// New builds a client authenticated with the OAuth2 client credentials
// grant. Tokens are fetched lazily and refreshed by the transport.
func New(ctx context.Context, cfg Config, logger ports.Logger) (*Client, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" {
		return nil, reconcile.NewError(reconcile.ErrCodeValidation, "graph tenant_id and client_id are required", nil, nil)
	}
	if cfg.ClientSecret == "" {
		return nil, reconcile.NewError(reconcile.ErrCodeValidation, "graph client secret is required", nil,
			map[string]interface{}{"hint": "set CONVERGO_GRAPH_CLIENT_SECRET"})
	}
	authority := strings.TrimRight(orDefault(cfg.AuthorityURL, DefaultAuthorityURL), "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, url.PathEscape(cfg.TenantID)),
		Scopes:       []string{defaultScope},
	}
	base := &http.Client{Timeout: timeout}
	httpClient := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	httpClient.Timeout = timeout

	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultBaseURL), "/"),
		maxRetries: cfg.MaxRetries,
		retryDelay: orDefaultDuration(cfg.RetryDelay, defaultRetryDelay),
		logger:     logger,
	}, nil
}

// APIError is a non-2xx Graph response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type user struct {
	ID                    string `json:"id"`
	UserPrincipalName     string `json:"userPrincipalName"`
	GivenName             string `json:"givenName"`
	Surname               string `json:"surname"`
	OnPremisesImmutableID string `json:"onPremisesImmutableId"`
}

func (u user) principal() match.RemotePrincipal {
	return match.RemotePrincipal{
		ID:          u.ID,
		UPN:         u.UserPrincipalName,
		GivenName:   u.GivenName,
		Surname:     u.Surname,
		ImmutableID: u.OnPremisesImmutableID,
	}
}

type userPage struct {
	Value    []user `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// LookupByKey returns every user whose UPN or primary mail equals key.
func (c *Client) LookupByKey(ctx context.Context, key string) ([]match.RemotePrincipal, error) {
	quoted := strings.ReplaceAll(key, "'", "''")
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("userPrincipalName eq '%s' or mail eq '%s'", quoted, quoted))
	q.Set("$select", strings.Join(userProperties, ","))

	var page userPage
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/users?"+q.Encode(), nil, &page); err != nil {
		return nil, c.classify(err, key)
	}
	if len(page.Value) == 0 {
		return nil, reconcile.NewError(reconcile.ErrCodeNotFound, "remote principal not found", nil, map[string]interface{}{"key": key})
	}

	out := make([]match.RemotePrincipal, 0, len(page.Value))
	for _, u := range page.Value {
		out = append(out, u.principal())
	}
	return out, nil
}

// SetAttribute patches one property of the user addressed by id or UPN.
func (c *Client) SetAttribute(ctx context.Context, key, attribute, value string) error {
	body, err := json.Marshal(map[string]string{attribute: value})
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPatch, c.baseURL+"/users/"+url.PathEscape(key), body, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusForbidden || apiErr.Status == http.StatusBadRequest) {
			return reconcile.PrerequisiteError("graph rejected the update", map[string]interface{}{
				"key": key, "attribute": attribute, "status": apiErr.Status, "error": apiErr.Message,
			})
		}
		return c.classify(err, key)
	}
	if c.logger != nil {
		c.logger.Info(ctx, "remote attribute updated", "key", key, "attribute", attribute)
	}
	return nil
}

// ListAll pages through every user.
func (c *Client) ListAll(ctx context.Context, properties []string) iter.Seq2[match.RemotePrincipal, error] {
	if len(properties) == 0 {
		properties = userProperties
	}
	q := url.Values{}
	q.Set("$select", strings.Join(properties, ","))
	q.Set("$top", fmt.Sprint(pageSize))
	next := c.baseURL + "/users?" + q.Encode()

	return func(yield func(match.RemotePrincipal, error) bool) {
		for next != "" {
			var page userPage
			if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
				yield(match.RemotePrincipal{}, c.classify(err, ""))
				return
			}
			for _, u := range page.Value {
				if !yield(u.principal(), nil) {
					return
				}
			}
			next = page.NextLink
		}
	}
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	return retry.Do(func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		// Advanced queries on mail require eventual consistency.
		req.Header.Set("ConsistencyLevel", "eventual")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			apiErr := decodeError(resp)
			if apiErr.transient() {
				if c.logger != nil {
					c.logger.Debug(ctx, "transient graph error", "status", apiErr.Status, "method", method)
				}
				return apiErr
			}
			return retry.Unrecoverable(apiErr)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode graph response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries+1),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.LastErrorOnly(true),
	)
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) classify(err error, key string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return reconcile.NewError(reconcile.ErrCodeCancelled, "graph request cancelled", err, nil)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return reconcile.NewError(reconcile.ErrCodeNotFound, "remote principal not found", err, map[string]interface{}{"key": key})
	}
	return reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "graph request failed", err, map[string]interface{}{"key": key})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefaultDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

var _ ports.RemoteIdentityClient = (*Client)(nil)
