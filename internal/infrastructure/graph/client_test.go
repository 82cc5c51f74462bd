package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

type fakeGraph struct {
	*httptest.Server
	tokens  atomic.Int32
	handler http.HandlerFunc
}

func newFakeGraph(t *testing.T, handler http.HandlerFunc) *fakeGraph {
	t.Helper()
	fg := &fakeGraph{handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		fg.tokens.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"token-abc","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1.0/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		fg.handler(w, r)
	})
	fg.Server = httptest.NewServer(mux)
	t.Cleanup(fg.Close)
	return fg
}

func (fg *fakeGraph) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		TenantID:     "tenant-1",
		ClientID:     "app-1",
		ClientSecret: "s3cret",
		BaseURL:      fg.URL + "/v1.0",
		AuthorityURL: fg.URL,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}, logging.NewNoOpLogger())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLookupByKey(t *testing.T) {
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/users", r.URL.Path)
		assert.Equal(t, "userPrincipalName eq 'o''brien@example.com' or mail eq 'o''brien@example.com'", r.URL.Query().Get("$filter"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": []map[string]string{{
			"id": "r-1", "userPrincipalName": "o'brien@example.com", "givenName": "Pat", "surname": "O'Brien",
		}}})
	})

	got, err := fg.client(t).LookupByKey(context.Background(), "o'brien@example.com")

	require.NoError(t, err)
	assert.Equal(t, []match.RemotePrincipal{{ID: "r-1", UPN: "o'brien@example.com", GivenName: "Pat", Surname: "O'Brien"}}, got)
	assert.EqualValues(t, 1, fg.tokens.Load())
}

func TestLookupByKeyEmptyIsNotFound(t *testing.T) {
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": []interface{}{}})
	})

	_, err := fg.client(t).LookupByKey(context.Background(), "nobody@example.com")

	assert.True(t, errors.Is(err, reconcile.ErrNotFound))
}

func TestLookupRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": map[string]string{"code": "TooManyRequests", "message": "slow down"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"value": []map[string]string{{"id": "r-1"}}})
	})

	got, err := fg.client(t).LookupByKey(context.Background(), "john@example.com")

	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestLookupGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"error": map[string]string{"code": "serviceNotAvailable", "message": "try later"}})
	})

	_, err := fg.client(t).LookupByKey(context.Background(), "john@example.com")

	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrSourceUnavailable))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "serviceNotAvailable", apiErr.Code)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSetAttribute(t *testing.T) {
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1.0/users/john@example.com", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{ports.AttributeImmutableID: "HzwdXHqLUk+cPipLbY4PEQ=="}, body)
		w.WriteHeader(http.StatusNoContent)
	})

	err := fg.client(t).SetAttribute(context.Background(), "john@example.com", ports.AttributeImmutableID, "HzwdXHqLUk+cPipLbY4PEQ==")

	require.NoError(t, err)
}

func TestSetAttributeErrors(t *testing.T) {
	status := http.StatusForbidden
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": "Authorization_RequestDenied", "message": "Insufficient privileges"}})
	})
	c := fg.client(t)

	err := c.SetAttribute(context.Background(), "john@example.com", ports.AttributeImmutableID, "x")
	assert.True(t, reconcile.IsFatal(err))

	status = http.StatusNotFound
	err = c.SetAttribute(context.Background(), "john@example.com", ports.AttributeImmutableID, "x")
	assert.True(t, errors.Is(err, reconcile.ErrNotFound))
}

func TestListAllFollowsNextLink(t *testing.T) {
	var fg *fakeGraph
	fg = newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"value": []map[string]string{{"id": "r-3"}}})
			return
		}
		assert.Equal(t, "999", r.URL.Query().Get("$top"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"value":           []map[string]string{{"id": "r-1"}, {"id": "r-2"}},
			"@odata.nextLink": fg.URL + "/v1.0/users?page=2",
		})
	})

	var ids []string
	for p, err := range fg.client(t).ListAll(context.Background(), nil) {
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"r-1", "r-2", "r-3"}, ids)
}

func TestListAllStopsOnError(t *testing.T) {
	fg := newFakeGraph(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": map[string]string{"code": "BadRequest", "message": "bad select"}})
	})

	var errs []error
	for _, err := range fg.client(t).ListAll(context.Background(), []string{"id"}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, strings.Contains(errs[0].Error(), "bad select"))
}

func TestNewValidatesCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "a", ClientSecret: "b"}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), Config{TenantID: "t", ClientID: "a"}, nil)
	assert.Error(t, err)
}
