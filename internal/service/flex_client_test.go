package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/flex-statement/internal/flextest"
	"github.com/noah-isme/flex-statement/internal/models"
	"github.com/noah-isme/flex-statement/pkg/config"
	appErrors "github.com/noah-isme/flex-statement/pkg/errors"
)

const (
	testToken   = "supersecret-token"
	testQueryID = "987654"
)

func newFlexServer(t *testing.T, opts flextest.Options) *flextest.Server {
	t.Helper()
	if opts.Token == "" {
		opts.Token = testToken
	}
	if opts.QueryID == "" {
		opts.QueryID = testQueryID
	}
	if opts.ReferenceCode == "" {
		opts.ReferenceCode = "ABC123"
	}
	srv := flextest.New(opts)
	t.Cleanup(srv.Close)
	return srv
}

func newFlexClientForTest(t *testing.T, baseURL string, mutate ...func(*config.FlexConfig)) (*FlexClient, *MetricsService) {
	t.Helper()
	cfg := config.FlexConfig{
		Token:           testToken,
		QueryID:         testQueryID,
		BaseURL:         baseURL,
		Version:         config.ProtocolVersion,
		RequestTimeout:  time.Second,
		FetchTimeout:    time.Second,
		MaxPayloadBytes: 1024,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	metrics := NewMetricsService()
	return NewFlexClient(cfg, metrics, zap.NewNop()), metrics
}

func TestSubmitWithoutRangeOmitsDates(t *testing.T) {
	srv := newFlexServer(t, flextest.Options{})
	client, metrics := newFlexClientForTest(t, srv.BaseURL())

	ref, err := client.Submit(context.Background(), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceToken("ABC123"), ref)

	sends := srv.SendRequests()
	require.Len(t, sends, 1)
	assert.Equal(t, testToken, sends[0].Get("t"))
	assert.Equal(t, testQueryID, sends[0].Get("q"))
	assert.Equal(t, "3", sends[0].Get("v"))
	assert.NotContains(t, sends[0], "StartDate")
	assert.NotContains(t, sends[0], "EndDate")
	assert.Empty(t, srv.StatementRequests())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.callTotal.WithLabelValues(opSendRequest, "200")))
}

func TestSubmitEncodesDateRange(t *testing.T) {
	srv := newFlexServer(t, flextest.Options{})
	client, _ := newFlexClientForTest(t, srv.BaseURL())

	dateRange, err := models.ParseDateRange("2024-07-01", "2024-07-31")
	require.NoError(t, err)
	_, err = client.Submit(context.Background(), dateRange)
	require.NoError(t, err)

	sends := srv.SendRequests()
	require.Len(t, sends, 1)
	assert.Equal(t, "20240701", sends[0].Get("StartDate"))
	assert.Equal(t, "20240731", sends[0].Get("EndDate"))
}

func TestSubmitRejected(t *testing.T) {
	srv := newFlexServer(t, flextest.Options{Token: "a-different-token"})
	client, _ := newFlexClientForTest(t, srv.BaseURL())

	_, err := client.Submit(context.Background(), models.DateRange{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRequestRejected))

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "Fail", rej.Status)
	assert.Equal(t, "1015", rej.ErrorCode)
	assert.Equal(t, "Token is invalid.", rej.ErrorMessage)
	assert.Contains(t, err.Error(), `status "Fail"`)
}

func TestSubmitInvalidResponses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "not xml", body: "<html><body>maintenance", message: "invalid flex response"},
		{name: "success without reference", body: "<R><Status>Success</Status></R>", message: "no reference code"},
		{name: "no status", body: "<R><ReferenceCode>X</ReferenceCode></R>", message: "status element missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFlexServer(t, flextest.Options{AckBody: tt.body})
			client, _ := newFlexClientForTest(t, srv.BaseURL())

			_, err := client.Submit(context.Background(), models.DateRange{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrInvalidResponse))
			assert.False(t, errors.Is(err, appErrors.ErrRequestRejected))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestSubmitTransportFailures(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := newFlexServer(t, flextest.Options{SendStatus: http.StatusServiceUnavailable})
		client, metrics := newFlexClientForTest(t, srv.BaseURL())

		_, err := client.Submit(context.Background(), models.DateRange{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrRequestTransport))

		var statusErr *HTTPStatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.callTotal.WithLabelValues(opSendRequest, "503")))
	})

	t.Run("connection refused hides token", func(t *testing.T) {
		srv := flextest.New(flextest.Options{})
		baseURL := srv.BaseURL()
		srv.Close()

		client, metrics := newFlexClientForTest(t, baseURL)
		_, err := client.Submit(context.Background(), models.DateRange{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrRequestTransport))
		assert.NotContains(t, err.Error(), testToken)
		assert.Contains(t, err.Error(), "REDACTED")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.callTotal.WithLabelValues(opSendRequest, "error")))
	})

	t.Run("timeout", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		t.Cleanup(slow.Close)

		client, _ := newFlexClientForTest(t, slow.URL, func(cfg *config.FlexConfig) {
			cfg.RequestTimeout = 50 * time.Millisecond
		})
		_, err := client.Submit(context.Background(), models.DateRange{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrRequestTransport))
	})
}

func TestSubmitRequiresCredentials(t *testing.T) {
	srv := newFlexServer(t, flextest.Options{})
	client, _ := newFlexClientForTest(t, srv.BaseURL(), func(cfg *config.FlexConfig) {
		cfg.Token = ""
	})

	_, err := client.Submit(context.Background(), models.DateRange{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConfiguration))
	assert.Equal(t, 0, srv.Calls())
}

func TestSubmitRejectsInvertedRange(t *testing.T) {
	srv := newFlexServer(t, flextest.Options{})
	client, _ := newFlexClientForTest(t, srv.BaseURL())

	start := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.Submit(context.Background(), models.DateRange{Start: &start, End: &end})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, 0, srv.Calls())
}

func TestSubmitCancelledContext(t *testing.T) {
	srv := newFlexServer(t, flextest.Options{})
	client, _ := newFlexClientForTest(t, srv.BaseURL())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Submit(ctx, models.DateRange{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetchReturnsBodyVerbatim(t *testing.T) {
	payload := []byte("col1,col2\n1,2\n")
	for _, redirect := range []bool{false, true} {
		srv := newFlexServer(t, flextest.Options{Statement: payload, Redirect: redirect})
		client, _ := newFlexClientForTest(t, srv.BaseURL())

		got, err := client.Fetch(context.Background(), "ABC123")
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		reqs := srv.StatementRequests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "ABC123", reqs[0].Get("q"))
		assert.Equal(t, testToken, reqs[0].Get("t"))
		assert.Equal(t, "3", reqs[0].Get("v"))
	}
}

func TestFetchFailures(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := newFlexServer(t, flextest.Options{StatementStatus: http.StatusInternalServerError})
		client, _ := newFlexClientForTest(t, srv.BaseURL())

		_, err := client.Fetch(context.Background(), "ABC123")
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrFetchTransport))
	})

	t.Run("unknown reference", func(t *testing.T) {
		srv := newFlexServer(t, flextest.Options{Statement: []byte("x")})
		client, _ := newFlexClientForTest(t, srv.BaseURL())

		_, err := client.Fetch(context.Background(), "EXPIRED")
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrFetchTransport))
	})

	t.Run("empty payload", func(t *testing.T) {
		srv := newFlexServer(t, flextest.Options{Statement: []byte{}})
		client, _ := newFlexClientForTest(t, srv.BaseURL())

		_, err := client.Fetch(context.Background(), "ABC123")
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrFetchEmpty))
	})

	t.Run("empty payload allowed", func(t *testing.T) {
		srv := newFlexServer(t, flextest.Options{Statement: []byte{}})
		client, _ := newFlexClientForTest(t, srv.BaseURL(), func(cfg *config.FlexConfig) {
			cfg.AllowEmptyPayload = true
		})

		got, err := client.Fetch(context.Background(), "ABC123")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("too large", func(t *testing.T) {
		srv := newFlexServer(t, flextest.Options{Statement: make([]byte, 2048)})
		client, _ := newFlexClientForTest(t, srv.BaseURL())

		_, err := client.Fetch(context.Background(), "ABC123")
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrFetchTooLarge))
	})

	t.Run("missing reference", func(t *testing.T) {
		client, _ := newFlexClientForTest(t, "http://127.0.0.1:1")
		_, err := client.Fetch(context.Background(), "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	})
}

func TestAwaitReady(t *testing.T) {
	client, _ := newFlexClientForTest(t, "http://127.0.0.1:1")

	start := time.Now()
	require.NoError(t, client.AwaitReady(context.Background(), 0))
	require.NoError(t, client.AwaitReady(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := client.AwaitReady(ctx, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCancelled))
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://host/FlexWebService/SendRequest?q=1&t=secret&v=3")
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "t=REDACTED")
	assert.Equal(t, "https://host/x?q=1", redactURL("https://host/x?q=1"))
}
