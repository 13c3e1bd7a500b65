package supabase

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidshq/forgetfulme-sub002/internal/observe"
)

// RESTClient talks to the PostgREST data API of the hosted backend.
// Each call authenticates with the signed-in user's access token; row
// security on the backend scopes results to that user.
type RESTClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	metrics    *observe.Metrics
	tracer     trace.Tracer
}

// RESTOption is a functional option for configuring RESTClient.
type RESTOption func(*RESTClient)

// WithRESTHTTPClient sets a custom HTTP client.
func WithRESTHTTPClient(client *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.httpClient = client
	}
}

// WithRESTMetrics sets the metrics sink for request durations.
func WithRESTMetrics(m *observe.Metrics) RESTOption {
	return func(c *RESTClient) {
		c.metrics = m
	}
}

// NewRESTClient creates a data API client for the project at baseURL.
func NewRESTClient(baseURL, anonKey string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL: baseURL,
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: observe.NopMetrics(),
		tracer:  otel.Tracer("forgetfulme/supabase"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select reads rows from table filtered by the PostgREST query string in
// params, decoding the JSON array response into out.
func (c *RESTClient) Select(ctx context.Context, table string, params url.Values, accessToken string, out any) error {
	return c.do(ctx, "select", http.MethodGet, c.tableURL(table, params), nil, nil, accessToken, out)
}

// Insert writes row into table. When out is non-nil the created
// representation is requested and decoded into it.
func (c *RESTClient) Insert(ctx context.Context, table string, row any, accessToken string, out any) error {
	var extra http.Header
	if out != nil {
		extra = http.Header{"Prefer": []string{"return=representation"}}
	}
	return c.do(ctx, "insert", http.MethodPost, c.tableURL(table, nil), extra, row, accessToken, out)
}

// Update patches the rows matched by params with the fields in patch.
func (c *RESTClient) Update(ctx context.Context, table string, params url.Values, patch any, accessToken string) error {
	return c.do(ctx, "update", http.MethodPatch, c.tableURL(table, params), nil, patch, accessToken, nil)
}

// Delete removes the rows matched by params.
func (c *RESTClient) Delete(ctx context.Context, table string, params url.Values, accessToken string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.tableURL(table, params), nil, nil, accessToken, nil)
}

func (c *RESTClient) tableURL(table string, params url.Values) string {
	u := c.baseURL + "/rest/v1/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *RESTClient) do(ctx context.Context, op, method, rawurl string, extra http.Header, body any, accessToken string, out any) error {
	ctx, span := c.tracer.Start(ctx, "supabase.rest."+op,
		trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()

	start := time.Now()
	err := doJSON(ctx, c.httpClient, method, rawurl, c.anonKey, accessToken, extra, body, out)
	c.metrics.RemoteRequestDuration.WithLabelValues("rest_"+op).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
