// Package sources defines the abstract source adapters and their registry.
//
// Each bibliographic API or publisher site implements Adapter. Adapters are
// registered once at startup, in priority order, and the registry is sealed
// before the resolver reads it.
//
// Example usage:
//
//	reg := sources.NewRegistry()
//	reg.Register(openalex.New(openalex.Config{}, client))
//	reg.Register(crossref.New(crossref.Config{}, client))
//	for _, a := range sites.All(client) {
//		reg.Register(a)
//	}
//	reg.Seal()
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/netclient"
)

// Fetcher is the network surface adapters use. *netclient.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (*netclient.Response, error)
	Render(ctx context.Context, rawURL, waitSelector string) (*netclient.Response, error)
	CanRender() bool
}

var _ Fetcher = (*netclient.Client)(nil)

// Adapter is one abstract source.
type Adapter interface {
	// ID returns the stable source identifier.
	ID() domain.SourceID

	// Medium reports whether this is a structured API or a scraped site.
	Medium() domain.Medium

	// RequiresRender reports whether pages must be rendered in a browser.
	RequiresRender() bool

	// Applicable reports whether the adapter can serve the paper at all,
	// e.g. it has a DOI, or a URL on the adapter's host.
	Applicable(p *domain.Paper) bool

	// Fetch looks up the abstract. Implementations must not mutate p.
	Fetch(ctx context.Context, p *domain.Paper) Result
}

// Kind is the outcome class of one fetch.
type Kind int

const (
	// KindNotFound means the source definitively has no abstract.
	KindNotFound Kind = iota
	// KindFound means the source returned an abstract.
	KindFound
	// KindTransient means the attempt failed and may succeed later.
	KindTransient
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Result is the outcome of Adapter.Fetch.
type Result struct {
	Kind Kind
	Text string
	Err  error
}

// Found returns a result carrying text. Empty text is treated as NotFound.
func Found(text string) Result {
	if text == "" {
		return NotFound()
	}
	return Result{Kind: KindFound, Text: text}
}

// NotFound returns a definitive miss.
func NotFound() Result {
	return Result{Kind: KindNotFound}
}

// Transient returns a retryable failure.
func Transient(err error) Result {
	if err == nil {
		err = errors.New("transient failure")
	}
	return Result{Kind: KindTransient, Err: err}
}

// FromError maps a network error: nil and not-found errors become NotFound,
// anything else is Transient.
func FromError(err error) Result {
	switch {
	case err == nil:
		return NotFound()
	case errors.Is(err, domain.ErrNotFound):
		return NotFound()
	default:
		return Transient(err)
	}
}

// Transientf formats a transient failure.
func Transientf(format string, args ...any) Result {
	return Transient(fmt.Errorf(format, args...))
}
