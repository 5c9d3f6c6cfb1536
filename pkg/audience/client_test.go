package audience

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sourcing/internal/resilience"
)

func newTestClient(srv *httptest.Server, opts ...Option) Client {
	base := []Option{WithBaseURL(srv.URL), WithRateLimit(0)}
	return NewClient("test-key", append(base, opts...)...)
}

func TestPreview_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audiences/preview", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var f Filters
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f))
		assert.Equal(t, []string{"saas"}, f.Industries)
		assert.Equal(t, 30, f.DaysBack)

		w.Write([]byte(`{"count": 42}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).Preview(context.Background(), Filters{Industries: []string{"saas"}, DaysBack: 30})
	require.NoError(t, err)
	assert.Equal(t, 42, resp.Count)
}

func TestFilters_OmitEmpty(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Filters{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))

	b, err = json.Marshal(Filters{Geography: []string{"ca"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"geography":["ca"]}`, string(b))
}

func TestPreview_Unavailable(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := newTestClient(srv).Preview(context.Background(), Filters{})
		assert.ErrorIs(t, err, ErrPreviewUnavailable, "status %d", status)
		srv.Close()
	}
}

func TestCreateQuery_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audiences", r.URL.Path)

		var body struct {
			Name    string  `json:"name"`
			Filters Filters `json:"filters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "segment-pull saas|ca", body.Name)
		assert.Equal(t, []string{"ca"}, body.Filters.Geography)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "aud_123", "status": "ready"}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv).CreateQuery(context.Background(), "segment-pull saas|ca", Filters{Geography: []string{"ca"}})
	require.NoError(t, err)
	assert.Equal(t, "aud_123", q.ID)
}

func TestCreateQuery_EmptyID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "pending"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateQuery(context.Background(), "x", Filters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestCreateQuery_BadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad filters"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateQuery(context.Background(), "x", Filters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.False(t, resilience.IsTransient(err))
}

func TestFetchPage_TransientStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusRequestTimeout} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := newTestClient(srv).FetchPage(context.Background(), "aud_1", 1, 100)
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err), "status %d should be transient", status)
		srv.Close()
	}
}

func TestFetchPage_MapsRecords(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audiences/aud_1/records", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))

		w.Write([]byte(`{
			"has_more": true,
			"data": [
				{"BUSINESS_EMAIL": "Jane@Acme.com", "FIRST_NAME": "jane", "LAST_NAME": "doe", "COMPANY_INDUSTRY": "SaaS", "PERSONAL_STATE": "CA"},
				{"personal_emails": "a@x.io, b@x.io", "full_name": "Bob Smith", "mobile_phone": 5551234},
				"not-an-object",
				{"email": {"nested": true}}
			]
		}`))
	}))
	defer srv.Close()

	page, err := newTestClient(srv).FetchPage(context.Background(), "aud_1", 2, 50)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, 2, page.Skipped)
	require.Len(t, page.Records, 2)

	assert.Equal(t, "Jane@Acme.com", page.Records[0].Email)
	assert.Equal(t, "jane", page.Records[0].FirstName)
	assert.Equal(t, "SaaS", page.Records[0].Industry)
	assert.Equal(t, "CA", page.Records[0].State)

	assert.Empty(t, page.Records[1].Email)
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, page.Records[1].PersonalEmails)
	assert.Equal(t, "Bob Smith", page.Records[1].FullName)
	assert.Equal(t, "5551234", page.Records[1].MobilePhone)
}

func TestFetchPage_Malformed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchPage(context.Background(), "aud_1", 1, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestParsePage_TotalPages(t *testing.T) {
	t.Parallel()

	p, err := ParsePage([]byte(`{"records": [], "page": 2, "total_pages": 3}`))
	require.NoError(t, err)
	assert.True(t, p.HasMore)

	p, err = ParsePage([]byte(`{"records": [], "page": 3, "total_pages": 3}`))
	require.NoError(t, err)
	assert.False(t, p.HasMore)

	_, err = ParsePage([]byte(`{"data": {"email": "x@y.z"}}`))
	assert.Error(t, err)
}

func TestParsePage_FieldShapes(t *testing.T) {
	t.Parallel()

	p, err := ParsePage([]byte(`{"data": [
		{"email": "jane@acme.com", "linkedin": false, "company": {"name": "Acme"}, "company_name": "Acme Inc", "title": ["cto"]},
		{"email": true, "first_name": "bob"},
		{"email": "c@d.co", "personal_emails": {"home": "c@home.io"}},
		{"work_email": "e@f.co", "personal_emails": null, "zip": 94105}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Skipped)
	require.Len(t, p.Records, 2)

	assert.Equal(t, "jane@acme.com", p.Records[0].Email)
	assert.Empty(t, p.Records[0].LinkedInURL)
	assert.Equal(t, "Acme Inc", p.Records[0].Company)
	assert.Empty(t, p.Records[0].JobTitle)

	assert.Equal(t, "e@f.co", p.Records[1].Email)
	assert.Nil(t, p.Records[1].PersonalEmails)
	assert.Equal(t, "94105", p.Records[1].PostalCode)
}

func TestClient_PerCallTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv, WithTimeout(50*time.Millisecond)).FetchPage(context.Background(), "aud_1", 1, 10)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestClient_CircuitOpensAfterOutage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	client := newTestClient(srv, WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := client.FetchPage(context.Background(), "aud_1", 1, 10)
		require.Error(t, err)
	}
	_, err := client.FetchPage(context.Background(), "aud_1", 1, 10)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}
