// Package tdx is the REST client for the ticketing/asset system. One
// client carries the shared plumbing (auth, rate limiting, circuit
// breaking); each integrated record kind is exposed as a source.Source
// view over the search endpoints.
package tdx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lsa-ts/orgsync/internal/config"
	"github.com/lsa-ts/orgsync/internal/extract"
	"github.com/lsa-ts/orgsync/internal/resilience"
	"github.com/lsa-ts/orgsync/internal/source"
)

// Client talks to the tdx REST API. All entity views share one rate
// limiter and one circuit breaker, because the API enforces its quota
// per application, not per endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      int
	token      string
	maxPerCall int
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	log        *zap.Logger
}

// New creates a tdx client from config.
func New(cfg config.TDXConfig) *Client {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 4
	}
	maxPerCall := cfg.MaxPerCall
	if maxPerCall <= 0 {
		maxPerCall = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    cfg.BaseURL,
		appID:      cfg.AppID,
		token:      cfg.Token,
		maxPerCall: maxPerCall,
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		log:        zap.L().With(zap.String("component", "tdx")),
	}
}

// MaxPerCall returns the API's per-call key limit, used to size chunks.
func (c *Client) MaxPerCall() int { return c.maxPerCall }

// post issues a JSON POST and decodes the response as a document array.
// Transient statuses (429, 5xx) come back as TransientError so retry and
// the circuit breaker treat them correctly; other non-2xx are permanent.
func (c *Client) post(ctx context.Context, path string, body any) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "tdx: rate limiter wait")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "tdx: marshal request")
	}

	var docs []map[string]any
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("%s/%d%s", c.baseURL, c.appID, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "tdx: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrapf(err, "tdx: POST %s", path), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			respErr := eris.Errorf("tdx: POST %s returned %d", path, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(respErr, resp.StatusCode)
			}
			return resilience.NewPermanentError(respErr, resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return resilience.NewTransientError(eris.Wrapf(err, "tdx: read %s", path), 0)
		}
		if err := json.Unmarshal(raw, &docs); err != nil {
			return eris.Wrapf(err, "tdx: decode %s", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// view exposes one record kind as a source.Source. Every kind differs
// only in its search path, id field, and key filter name.
type view struct {
	c          *Client
	searchPath string
	idField    string
	modField   string
	keysFilter string
}

// Accounts returns the department/account view.
func (c *Client) Accounts() source.Source {
	return &view{c: c, searchPath: "/accounts/search", idField: "ID", modField: "ModifiedDate", keysFilter: "AccountIDs"}
}

// Users returns the people view.
func (c *Client) Users() source.Source {
	return &view{c: c, searchPath: "/people/search", idField: "UID", modField: "ModifiedDate", keysFilter: "UIDs"}
}

// Assets returns the asset view.
func (c *Client) Assets() source.Source {
	return &view{c: c, searchPath: "/assets/search", idField: "ID", modField: "ModifiedDate", keysFilter: "AssetIDs"}
}

// Computers returns the asset view filtered to computer product types.
func (c *Client) Computers() source.Source {
	return &view{c: c, searchPath: "/assets/search", idField: "SerialNumber", modField: "ModifiedDate", keysFilter: "SerialNumbers"}
}

func (v *view) Name() string { return "tdx" }

// FetchByKeys searches for the given keys. The caller chunks to
// MaxPerCall.
func (v *view) FetchByKeys(ctx context.Context, keys []string) ([]source.Document, error) {
	docs, err := v.c.post(ctx, v.searchPath, map[string]any{
		v.keysFilter: keys,
		"MaxResults": len(keys),
	})
	if err != nil {
		return nil, err
	}
	return v.toDocuments(docs), nil
}

// FetchChangedSince searches for records modified after the cursor. A nil
// cursor fetches everything.
func (v *view) FetchChangedSince(ctx context.Context, since *time.Time) ([]source.Document, error) {
	body := map[string]any{"MaxResults": 0}
	if since != nil {
		body["ModifiedDateFrom"] = since.UTC().Format(time.RFC3339)
	}
	docs, err := v.c.post(ctx, v.searchPath, body)
	if err != nil {
		return nil, err
	}
	return v.toDocuments(docs), nil
}

// FetchAll fetches the full extract.
func (v *view) FetchAll(ctx context.Context) ([]source.Document, error) {
	return v.FetchChangedSince(ctx, nil)
}

// ListKeys enumerates the full key set without keeping the documents.
// The search result is already the cheapest listing the API offers.
func (v *view) ListKeys(ctx context.Context) ([]string, error) {
	docs, err := v.c.post(ctx, v.searchPath, map[string]any{"MaxResults": 0})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		if id := v.externalID(d); id != "" {
			keys = append(keys, id)
		}
	}
	return keys, nil
}

func (v *view) toDocuments(raw []map[string]any) []source.Document {
	docs := make([]source.Document, 0, len(raw))
	for _, d := range raw {
		id := v.externalID(d)
		if id == "" {
			continue
		}
		docs = append(docs, source.Document{
			ExternalID: id,
			ModifiedAt: extract.ParseDate(extract.Field(d, v.modField)),
			Payload:    d,
		})
	}
	return docs
}

// externalID renders the id field as a string; the API returns numeric
// ids for some kinds and strings for others.
func (v *view) externalID(d map[string]any) string {
	switch t := d[v.idField].(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return ""
	}
}
