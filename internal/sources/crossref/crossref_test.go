package crossref

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/netclient"
	"github.com/helixir/paper-harvester/internal/sources"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := netclient.New(netclient.Config{DefaultLimit: httpx.HostLimit{RPS: 1000, Burst: 100}}, nil, zerolog.Nop())
	return New(Config{BaseURL: server.URL}, client)
}

func TestAdapter_Fetch(t *testing.T) {
	t.Run("cleans the JATS abstract", func(t *testing.T) {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/works/10.1109/ICASSP.2023.1", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Write([]byte(`{"status":"ok","message":{"DOI":"10.1109/ICASSP.2023.1",
				"abstract":"<jats:title>Abstract</jats:title><jats:p>We propose a <jats:italic>new</jats:italic> codec.</jats:p>"}}`))
		})

		res := adapter.Fetch(context.Background(), &domain.Paper{DOI: "10.1109/ICASSP.2023.1"})
		require.Equal(t, sources.KindFound, res.Kind, res.Err)
		assert.Equal(t, "We propose a new codec.", res.Text)
	})

	t.Run("no abstract field", func(t *testing.T) {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok","message":{"DOI":"10.1/x"}}`))
		})
		res := adapter.Fetch(context.Background(), &domain.Paper{DOI: "10.1/x"})
		assert.Equal(t, sources.KindNotFound, res.Kind)
	})

	t.Run("unknown doi", func(t *testing.T) {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		res := adapter.Fetch(context.Background(), &domain.Paper{DOI: "10.1/x"})
		assert.Equal(t, sources.KindNotFound, res.Kind)
	})

	t.Run("server error", func(t *testing.T) {
		adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		res := adapter.Fetch(context.Background(), &domain.Paper{DOI: "10.1/x"})
		assert.Equal(t, sources.KindTransient, res.Kind)
	})
}

func TestAdapter_Applicable(t *testing.T) {
	adapter := New(Config{Email: "ops@example.com"}, nil)
	assert.Equal(t, domain.SourceCrossRef, adapter.ID())
	assert.True(t, adapter.Applicable(&domain.Paper{DOI: "10.1/x"}))
	assert.False(t, adapter.Applicable(&domain.Paper{Key: "conf/x/1"}))
	assert.Equal(t, "https://api.crossref.org/works/10.1/x?mailto=ops%40example.com", adapter.workURL("10.1/x"))
}
