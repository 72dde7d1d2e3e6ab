package biotime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliverydevs/punchsync/internal/punch"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	client, err := New(&Config{
		ServerIP:   u.Hostname(),
		ServerPort: port,
		Token:      token,
		Timeout:    5 * time.Second,
		RateLimit:  1000,
		Log:        log,
	})
	require.NoError(t, err)
	return client
}

func txn(code string, id int) map[string]any {
	return map[string]any{
		"emp_code":   code,
		"id":         id,
		"punch_time": "2024-01-01 09:00:00",
	}
}

// =============================================================================
// FETCH TESTS
// =============================================================================

func TestFetchTransactions_SinglePage(t *testing.T) {
	var gotAuth, gotStart, gotEnd string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotStart = r.URL.Query().Get("start_time")
		gotEnd = r.URL.Query().Get("end_time")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{txn("E1", 1), txn("E2", 2)},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, "tok123")
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)
	end := time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local)

	records, err := client.FetchTransactions(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "2024-01-01 08:00:00", gotStart)
	assert.Equal(t, "2024-01-01 09:00:00", gotEnd)
	assert.Equal(t, "E1", punch.EmpCode(records[0]))
	assert.Equal(t, "E2", punch.EmpCode(records[1]))
}

func TestFetchTransactions_FollowsNextLinks(t *testing.T) {
	// 3 pages via next links, 40 records total, original order kept.
	const total = 40
	perPage := []int{15, 15, 10}

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}

		offset := 0
		for i := 0; i < page-1; i++ {
			offset += perPage[i]
		}
		items := make([]any, 0, perPage[page-1])
		for i := 0; i < perPage[page-1]; i++ {
			items = append(items, txn(fmt.Sprintf("E%02d", offset+i), offset+i))
		}

		body := map[string]any{"data": items}
		if page < len(perPage) {
			body["next"] = fmt.Sprintf("%s/iclock/api/transactions/?page=%d", srv.URL, page+1)
		}
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, "tok")
	records, err := client.FetchTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, records, total)

	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("E%02d", i), punch.EmpCode(rec), "record %d out of order", i)
	}
}

func TestFetchTransactions_EnvelopeShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"data key", `{"data":[{"emp_code":"A"},{"emp_code":"B"}]}`, 2},
		{"results key", `{"results":[{"emp_code":"A"}]}`, 1},
		{"transactions key", `{"transactions":[{"emp_code":"A"}]}`, 1},
		{"bare list", `[{"emp_code":"A"},{"emp_code":"B"},{"emp_code":"C"}]`, 3},
		{"unknown shape", `{"count":7}`, 0},
		{"non-object items skipped", `{"data":[{"emp_code":"A"},42,"x"]}`, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv, "tok")
			records, err := client.FetchTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())
			require.NoError(t, err)
			assert.Len(t, records, tc.want)
		})
	}
}

func TestFetchTransactions_PartialResultsOnFailure(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{txn("E1", 1), txn("E2", 2)},
			"next": srv.URL + "/iclock/api/transactions/?page=2",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, "tok")
	records, err := client.FetchTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())

	require.Error(t, err)
	assert.Len(t, records, 2, "records from the successful page are kept")
}

func TestFetchTransactions_PageCap(t *testing.T) {
	var pages int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		// Always advertise a next page to simulate a pagination loop.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{txn("E1", pages)},
			"next": srv.URL + "/iclock/api/transactions/?page=next",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, "tok")
	records, err := client.FetchTransactions(context.Background(), time.Now().Add(-time.Hour), time.Now())

	require.NoError(t, err, "hitting the cap is a safety valve, not an error")
	assert.Equal(t, maxPages, pages)
	assert.Len(t, records, maxPages)
}

// =============================================================================
// URL TESTS
// =============================================================================

func TestBuildBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5:8081", BuildBaseURL("10.0.0.5", 8081))
	assert.Equal(t, "http://10.0.0.5:4370", BuildBaseURL("10.0.0.5", 4370))
	assert.Equal(t, "https://10.0.0.5:443", BuildBaseURL("10.0.0.5", 443))
	assert.Equal(t, "https://10.0.0.5:8443", BuildBaseURL("10.0.0.5", 8443))
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "http://h:80/iclock/api/transactions/", BuildURL("h", 80, "/iclock/api/transactions/"))
	assert.Equal(t, "http://h:80/x", BuildURL("h", 80, "x"))
	assert.Equal(t, "http://h:80", BuildURL("h", 80, ""))
}

func TestConfigValidate(t *testing.T) {
	_, err := New(&Config{ServerPort: 80})
	assert.Error(t, err)
	_, err = New(&Config{ServerIP: "h"})
	assert.Error(t, err)
}
