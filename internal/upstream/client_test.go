package upstream_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratelimit"
	"github.com/opensource-finance/kestrel/internal/retry"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

type payload struct {
	Ticker string `json:"ticker"`
	Price  string `json:"price"`
}

func jsonResponse(t *testing.T, status int, v any) *http.Response {
	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(v))
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(buffer),
	}
}

func statusResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func fastPolicies() upstream.Option {
	overload := retry.Overload()
	overload.BaseDelay = time.Millisecond
	overload.MaxDelay = 5 * time.Millisecond
	throttle := retry.Throttle(60)
	throttle.BaseDelay = time.Millisecond
	return upstream.WithPolicies(overload, throttle)
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "/api/stock/NVDA/quote", req.URL.Path)
			require.Equal(t, "k1", req.URL.Query().Get("apikey"))
			require.Equal(t, "5", req.URL.Query().Get("limit"))
			require.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			require.Equal(t, "kestrel", req.Header.Get("User-Agent"))
			return jsonResponse(t, http.StatusOK, payload{Ticker: "NVDA", Price: "120.5"}), nil
		}).
		Times(1)

	// Arrange: setup a new client
	client := upstream.New("uw",
		upstream.WithBaseURL("https://example.test/"),
		upstream.WithHTTPClient(httpClient),
		upstream.WithQuery("apikey", "k1"),
		upstream.WithHeader(http.Header{"User-Agent": []string{"kestrel"}}),
		upstream.WithTokenSupplier(auth.Static("tok")),
	)

	// Act: call GetJSON
	var out payload
	err := client.GetJSON(t.Context(), "/api/stock/NVDA/quote", url.Values{"limit": {"5"}}, &out)

	// Assert: body should be decoded
	require.NoError(t, err)
	require.Equal(t, "NVDA", out.Ticker)
	require.Equal(t, "120.5", out.Price)
}

func TestGetJSON_MissingTokenIsPermanent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: no request leaves without a token
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	client := upstream.New("uw",
		upstream.WithHTTPClient(httpClient),
		upstream.WithTokenSupplier(auth.Static("")),
		fastPolicies(),
	)

	err := client.GetJSON(t.Context(), "/x", nil, nil)
	require.ErrorIs(t, err, domain.ErrNoToken)

	var perm *domain.PermanentProviderError
	require.ErrorAs(t, err, &perm)
	require.Equal(t, 1, retry.Attempts(err))
}

func TestGetJSON_RetriesUnavailable(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: two 503s then success
	gomock.InOrder(
		httpClient.EXPECT().Do(gomock.Any()).Return(statusResponse(http.StatusServiceUnavailable, nil), nil),
		httpClient.EXPECT().Do(gomock.Any()).Return(statusResponse(http.StatusServiceUnavailable, nil), nil),
		httpClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(t, http.StatusOK, payload{Ticker: "AAPL"}), nil),
	)

	client := upstream.New("finnhub", upstream.WithHTTPClient(httpClient), fastPolicies())

	var out payload
	require.NoError(t, client.GetJSON(t.Context(), "/quote", nil, &out))
	require.Equal(t, "AAPL", out.Ticker)
}

func TestGetJSON_UnavailableExhausts(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return statusResponse(http.StatusServiceUnavailable, nil), nil
		}).
		Times(3)

	client := upstream.New("finnhub", upstream.WithHTTPClient(httpClient), fastPolicies())

	err := client.GetJSON(t.Context(), "/quote", nil, nil)
	require.True(t, domain.IsUnavailable(err))
	require.Equal(t, 3, retry.Attempts(err))
}

func TestGetJSON_ThrottledHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return statusResponse(http.StatusTooManyRequests, http.Header{"Retry-After": []string{"1"}}), nil
		}).
		Times(2)

	client := upstream.New("uw", upstream.WithHTTPClient(httpClient), fastPolicies())

	start := time.Now()
	err := client.GetJSON(t.Context(), "/flow", nil, nil)
	require.True(t, domain.IsThrottled(err))
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestGetJSON_StatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"NotFound", http.StatusNotFound, func(t *testing.T, err error) {
			require.ErrorIs(t, err, domain.ErrNotFound)
		}},
		{"BadRequest", http.StatusBadRequest, func(t *testing.T, err error) {
			var perm *domain.PermanentProviderError
			require.ErrorAs(t, err, &perm)
			require.Equal(t, http.StatusBadRequest, perm.StatusCode)
		}},
		{"InternalError", http.StatusInternalServerError, func(t *testing.T, err error) {
			require.False(t, domain.IsTransient(err))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().Do(gomock.Any()).Return(statusResponse(tc.status, nil), nil).Times(1)

			client := upstream.New("uw", upstream.WithHTTPClient(httpClient), fastPolicies())
			err := client.GetJSON(t.Context(), "/x", nil, nil)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGetJSON_ErrPerformingRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return nil, fmt.Errorf("connection reset")
		}).
		Times(1)

	client := upstream.New("uw", upstream.WithHTTPClient(httpClient), fastPolicies())
	err := client.GetJSON(t.Context(), "/x", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

func TestGetJSON_ErrDecoding(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{not json"))}, nil)

	client := upstream.New("uw", upstream.WithHTTPClient(httpClient), fastPolicies())
	var out payload
	err := client.GetJSON(t.Context(), "/x", nil, &out)

	var perm *domain.PermanentProviderError
	require.ErrorAs(t, err, &perm)
}

func TestGetJSON_LimiterGatesEveryAttempt(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	var calls []time.Time
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			calls = append(calls, time.Now())
			if len(calls) < 3 {
				return statusResponse(http.StatusServiceUnavailable, nil), nil
			}
			return jsonResponse(t, http.StatusOK, payload{}), nil
		}).
		Times(3)

	const interval = 30 * time.Millisecond
	client := upstream.New("uw",
		upstream.WithHTTPClient(httpClient),
		upstream.WithLimiter(ratelimit.NewLimiter("uw", interval)),
		fastPolicies(),
	)

	require.NoError(t, client.GetJSON(t.Context(), "/x", nil, nil))
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), interval-5*time.Millisecond)
	}
}

func TestGetJSON_CancelledContext(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	client := upstream.New("uw",
		upstream.WithHTTPClient(httpClient),
		upstream.WithLimiter(ratelimit.NewLimiter("uw", time.Hour)),
		fastPolicies(),
	)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := client.GetJSON(ctx, "/x", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, retry.Attempts(err))
}
