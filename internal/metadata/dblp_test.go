package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/venues"
)

// stubCatalog fixes the tier list and delegates naming to the embedded
// catalog.
type stubCatalog struct {
	*venues.Catalog
	keys []string
}

func (s stubCatalog) Venues(tier, classification string) ([]string, error) {
	if tier != "a" || classification != "conf" {
		return nil, fmt.Errorf("unknown tier: %w", domain.ErrInvalidInput)
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

func newCatalog(keys ...string) stubCatalog {
	return stubCatalog{Catalog: venues.MustEmbedded(), keys: keys}
}

func testClient() *httpx.Client {
	return httpx.New(httpx.ClientConfig{
		RateLimit:  1000,
		BurstSize:  1000,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type hitSpec struct {
	key   string
	venue any
	ee    any
}

func dblpBody(total int, hits ...hitSpec) map[string]any {
	list := make([]map[string]any, 0, len(hits))
	for i, h := range hits {
		info := map[string]any{
			"title": "Paper " + h.key + ".",
			"venue": h.venue,
			"year":  "2024",
			"type":  "Conference and Workshop Papers",
			"key":   h.key,
			"doi":   "10.1000/" + strconv.Itoa(i),
			"url":   "https://dblp.org/rec/" + h.key,
			"authors": map[string]any{
				"author": map[string]any{"@pid": "12/345", "text": "Ada Lovelace"},
			},
		}
		if h.ee != nil {
			info["ee"] = h.ee
		}
		list = append(list, map[string]any{"@id": strconv.Itoa(1000 + i), "info": info})
	}
	return map[string]any{
		"result": map[string]any{
			"hits": map[string]any{
				"@total": strconv.Itoa(total),
				"hit":    list,
			},
		},
	}
}

func TestDBLP_FetchVenueYear(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1000", r.URL.Query().Get("h"))
		assert.Equal(t, "0", r.URL.Query().Get("f"))
		assert.Equal(t, "0", r.URL.Query().Get("c"))

		_ = json.NewEncoder(w).Encode(dblpBody(3,
			hitSpec{key: "conf/icse/A24", venue: "ICSE", ee: "https://doi.org/10.1000/0"},
			hitSpec{key: "conf/icse/B24", venue: []string{"ICSE", "SEIP"}, ee: []string{"https://a", "https://b"}},
			hitSpec{key: "conf/icse/C24", venue: "ICSE Companion"},
		))
	}))
	defer server.Close()

	d := NewDBLP(testClient(), newCatalog("icse"), DBLPConfig{BaseURL: server.URL}, zerolog.Nop(),
		WithPageSleep(noSleep))

	papers, err := d.FetchVenueYear(context.Background(), "icse", 2024)
	require.NoError(t, err)

	assert.Equal(t, "venue:ICSE year:2024", gotQuery)
	require.Len(t, papers, 2)

	first := papers[0]
	assert.Equal(t, "conf/icse/A24", first.Key)
	assert.Equal(t, "10.1000/0", first.DOI)
	assert.Equal(t, "icse", first.Venue)
	assert.Equal(t, 2024, first.Year)
	assert.Equal(t, []string{"https://doi.org/10.1000/0"}, first.URLs)
	assert.Equal(t, []domain.Author{{Name: "Ada Lovelace", PID: "12/345"}}, first.Authors)
	assert.Equal(t, "https://dblp.org/rec/conf/icse/A24", first.DBLPURL)
	assert.Equal(t, domain.StatusPending, first.Status)

	assert.Equal(t, []string{"https://a", "https://b"}, papers[1].URLs)
}

func TestDBLP_Paging(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := r.URL.Query().Get("f")
		mu.Lock()
		offsets = append(offsets, f)
		mu.Unlock()

		switch f {
		case "0":
			_ = json.NewEncoder(w).Encode(dblpBody(5,
				hitSpec{key: "a", venue: "ICSE"}, hitSpec{key: "b", venue: "ICSE"}))
		case "2":
			_ = json.NewEncoder(w).Encode(dblpBody(5,
				hitSpec{key: "c", venue: "ICSE"}, hitSpec{key: "d", venue: "ICSE"}))
		default:
			_ = json.NewEncoder(w).Encode(dblpBody(5, hitSpec{key: "e", venue: "ICSE"}))
		}
	}))
	defer server.Close()

	var sleeps int
	d := NewDBLP(testClient(), newCatalog("icse"), DBLPConfig{BaseURL: server.URL, PageSize: 2}, zerolog.Nop(),
		WithPageSleep(func(ctx context.Context, _ time.Duration) error {
			sleeps++
			return nil
		}))

	papers, err := d.FetchVenueYear(context.Background(), "icse", 2024)
	require.NoError(t, err)

	assert.Len(t, papers, 5)
	assert.Equal(t, []string{"0", "2", "4"}, offsets)
	assert.Equal(t, 2, sleeps)
}

func TestDBLP_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"hits":{"@total":"0"}}}`))
	}))
	defer server.Close()

	d := NewDBLP(testClient(), newCatalog("icse"), DBLPConfig{BaseURL: server.URL}, zerolog.Nop())
	papers, err := d.FetchVenueYear(context.Background(), "icse", 2024)
	require.NoError(t, err)
	assert.Empty(t, papers)
}

func TestDBLP_FetchPapers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "venue:NIPS year:2017":
			_ = json.NewEncoder(w).Encode(dblpBody(1, hitSpec{key: "nips17", venue: "NIPS"}))
		case "venue:NeurIPS year:2018":
			_ = json.NewEncoder(w).Encode(dblpBody(1, hitSpec{key: "neurips18", venue: "NeurIPS"}))
		case "venue:ICSE year:2017":
			_ = json.NewEncoder(w).Encode(dblpBody(1, hitSpec{key: "icse17", venue: "ICSE"}))
		case "venue:ICSE year:2018":
			w.WriteHeader(http.StatusBadRequest)
		default:
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	d := NewDBLP(testClient(), newCatalog("icse", "nips"), DBLPConfig{
		BaseURL:     server.URL,
		Concurrency: 3,
		Years:       YearRange{From: 2017, To: 2018},
	}, zerolog.Nop())

	papers, err := d.FetchPapers(context.Background(), "a", "conf")
	require.NoError(t, err)

	keys := make([]string, 0, len(papers))
	for _, p := range papers {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"icse17", "nips17", "neurips18"}, keys)
	assert.Equal(t, 2018, papers[2].Year)
}

func TestDBLP_FetchPapersOptions(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(dblpBody(0))
	}))
	defer server.Close()

	d := NewDBLP(testClient(), newCatalog("icse", "fse_esec", "nips"), DBLPConfig{
		BaseURL: server.URL,
		Years:   YearRange{From: 2023, To: 2024},
		Venues:  []string{"ICSE", "nips"},
	}, zerolog.Nop(), WithSkip(func(venue string, year int) bool {
		return venue == "nips" && year == 2023
	}))

	_, err := d.FetchPapers(context.Background(), "a", "conf")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"venue:ICSE year:2023",
		"venue:ICSE year:2024",
		"venue:NeurIPS year:2024",
	}, queries)

	t.Run("unknown tier", func(t *testing.T) {
		_, err := d.FetchPapers(context.Background(), "c", "conf")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("venue filter with no match", func(t *testing.T) {
		d := NewDBLP(testClient(), newCatalog("icse"), DBLPConfig{BaseURL: server.URL, Venues: []string{"chi"}}, zerolog.Nop())
		_, err := d.FetchPapers(context.Background(), "a", "conf")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestDBLP_FetchPapersCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dblpBody(0))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDBLP(testClient(), newCatalog("icse"), DBLPConfig{
		BaseURL: server.URL,
		Years:   YearRange{From: 2024, To: 2024},
	}, zerolog.Nop())
	_, err := d.FetchPapers(ctx, "a", "conf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFlexibleDecoding(t *testing.T) {
	t.Run("stringList", func(t *testing.T) {
		var s stringList
		require.NoError(t, json.Unmarshal([]byte(`"one"`), &s))
		assert.Equal(t, stringList{"one"}, s)
		require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &s))
		assert.Equal(t, stringList{"a", "b"}, s)
		require.NoError(t, json.Unmarshal([]byte(`null`), &s))
		assert.Nil(t, s)
	})

	t.Run("authorList", func(t *testing.T) {
		var a authorList
		require.NoError(t, json.Unmarshal([]byte(`{"@pid":"1","text":"Solo"}`), &a))
		assert.Equal(t, authorList{{Name: "Solo", PID: "1"}}, a)
		require.NoError(t, json.Unmarshal([]byte(`[{"text":"A"},{"text":"B"}]`), &a))
		assert.Len(t, a, 2)
	})

	t.Run("flexInt", func(t *testing.T) {
		var n flexInt
		require.NoError(t, json.Unmarshal([]byte(`"42"`), &n))
		assert.Equal(t, flexInt(42), n)
		require.NoError(t, json.Unmarshal([]byte(`7`), &n))
		assert.Equal(t, flexInt(7), n)
		assert.Error(t, json.Unmarshal([]byte(`"x"`), &n))
	})
}

func TestYearRange(t *testing.T) {
	assert.Equal(t, []int{2020, 2021, 2022}, YearRange{From: 2020, To: 2022}.List())
	assert.Nil(t, YearRange{From: 2022, To: 2020}.List())
	assert.True(t, YearRange{}.Contains(1999))
	assert.True(t, YearRange{From: 2020, To: 2022}.Contains(2021))
	assert.False(t, YearRange{From: 2020, To: 2022}.Contains(2023))
}
