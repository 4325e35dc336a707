package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/httpx"
	"github.com/helixir/paper-harvester/internal/metadata"
	"github.com/helixir/paper-harvester/internal/netclient"
	"github.com/helixir/paper-harvester/internal/observability"
	"github.com/helixir/paper-harvester/internal/proxypool"
	"github.com/helixir/paper-harvester/internal/resolver"
	"github.com/helixir/paper-harvester/internal/sources"
	"github.com/helixir/paper-harvester/internal/sources/crossref"
	"github.com/helixir/paper-harvester/internal/sources/openalex"
	"github.com/helixir/paper-harvester/internal/sources/semanticscholar"
	"github.com/helixir/paper-harvester/internal/sources/sites"
	"github.com/helixir/paper-harvester/internal/store"
	"github.com/helixir/paper-harvester/internal/venues"
)

// sitesSource is the sources key that toggles every site adapter at once.
const sitesSource = "sites"

// buildPool returns nil when traffic should go direct.
func buildPool(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*proxypool.Pool, error) {
	if !cfg.ProxyPool.Enabled || cfg.ProxyProvider.Kind == config.ProviderNone {
		logger.Info().Msg("proxy pool disabled, connecting directly")
		return nil, nil
	}

	var provider proxypool.Provider
	switch cfg.ProxyProvider.Kind {
	case config.ProviderShenlong:
		provider = proxypool.NewShenlongProvider(proxypool.ShenlongConfig{
			BaseURL:  cfg.ProxyProvider.BaseURL,
			APIKey:   cfg.ProxyProvider.APIKey,
			APISign:  cfg.ProxyProvider.APISign,
			Protocol: cfg.ProxyProvider.Protocol,
			Username: cfg.ProxyProvider.Username,
			Password: cfg.ProxyProvider.Password,
			Timeout:  cfg.ProxyProvider.Timeout,
		})
	case config.ProviderStatic:
		provider = proxypool.NewStaticProvider(cfg.ProxyProvider.Addresses)
	default:
		return nil, fmt.Errorf("unknown proxy provider %q", cfg.ProxyProvider.Kind)
	}

	prober := proxypool.NewHTTPProber(cfg.ProxyPool.ProbeURL, cfg.ProxyPool.ProbeTimeout)
	prober.UserAgent = cfg.Network.UserAgent

	return proxypool.New(proxypool.Config{
		Size:              cfg.ProxyPool.Size,
		MaxFailures:       cfg.ProxyPool.MaxFailures,
		TTL:               cfg.ProxyPool.TTL,
		ReplenishInterval: cfg.ProxyPool.ReplenishInterval,
		DegradeAfter:      cfg.ProxyPool.DegradeAfter,
		AcquireWait:       cfg.ProxyPool.AcquireWait,
		Overfetch:         cfg.ProxyPool.Overfetch,
		ProbeConcurrency:  cfg.ProxyPool.ProbeConcurrency,
	}, provider, prober, logger, proxypool.WithMetrics(metrics)), nil
}

func buildNetClient(cfg *config.Config, pool *proxypool.Pool, logger zerolog.Logger, metrics *observability.Metrics) *netclient.Client {
	hostLimits := make(map[string]httpx.HostLimit, len(cfg.Network.HostLimits))
	for _, hl := range cfg.Network.HostLimits {
		hostLimits[strings.ToLower(hl.Host)] = httpx.HostLimit{RPS: hl.RPS, Burst: hl.Burst}
	}

	opts := []netclient.Option{netclient.WithMetrics(metrics)}
	if cfg.Render.Enabled {
		opts = append(opts, netclient.WithBrowser(netclient.NewChromeBrowser(netclient.ChromeConfig{
			ExecPath:  cfg.Render.ExecPath,
			Headless:  cfg.Render.Headless,
			UserAgent: cfg.Network.UserAgent,
		})))
	}

	var p netclient.Pool
	if pool != nil {
		p = pool
	}
	return netclient.New(netclient.Config{
		Timeout:            cfg.Network.Timeout,
		RenderTimeout:      cfg.Render.Timeout,
		UserAgent:          cfg.Network.UserAgent,
		DefaultLimit:       httpx.HostLimit{RPS: cfg.Network.DefaultRPS, Burst: cfg.Network.DefaultBurst},
		HostLimits:         hostLimits,
		MaxProxySwaps:      cfg.Network.MaxProxySwaps,
		TransportCacheSize: cfg.Network.TransportCacheSize,
		MaxBodyBytes:       cfg.Network.MaxBodyBytes,
	}, p, logger, opts...)
}

// buildRegistry registers the enabled sources and seals the registry.
func buildRegistry(cfg *config.Config, fetcher sources.Fetcher) (*sources.Registry, error) {
	registry := sources.NewRegistry()

	if sc := cfg.Source(string(domain.SourceOpenAlex)); sc.Enabled {
		if err := registry.Register(openalex.New(openalex.Config{BaseURL: sc.BaseURL}, fetcher)); err != nil {
			return nil, err
		}
	}
	if sc := cfg.Source(string(domain.SourceCrossRef)); sc.Enabled {
		if err := registry.Register(crossref.New(crossref.Config{BaseURL: sc.BaseURL}, fetcher)); err != nil {
			return nil, err
		}
	}
	if sc := cfg.Source(string(domain.SourceSemanticScholar)); sc.Enabled {
		if err := registry.Register(semanticscholar.New(semanticscholar.Config{
			BaseURL: sc.BaseURL,
			APIKey:  sc.APIKey,
		}, fetcher)); err != nil {
			return nil, err
		}
	}
	if cfg.Source(sitesSource).Enabled {
		for _, site := range sites.All(fetcher) {
			if sc, ok := cfg.Sources[string(site.ID())]; ok && !sc.Enabled {
				continue
			}
			if err := registry.Register(site); err != nil {
				return nil, err
			}
		}
	}

	registry.Seal()
	if len(registry.IDs()) == 0 {
		return nil, fmt.Errorf("no abstract sources enabled: %w", domain.ErrInvalidInput)
	}
	return registry, nil
}

func resolverConfig(cfg *config.Config) resolver.Config {
	attempts := make(map[domain.SourceID]int)
	for id, sc := range cfg.Sources {
		if sc.MaxAttempts > 0 {
			attempts[domain.SourceID(id)] = sc.MaxAttempts
		}
	}
	return resolver.Config{
		MaxAttempts:       cfg.Resolver.MaxAttempts,
		SourceAttempts:    attempts,
		BackoffInitial:    cfg.Resolver.BackoffInitial,
		BackoffMax:        cfg.Resolver.BackoffMax,
		BackoffMultiplier: cfg.Resolver.BackoffMultiplier,
		BackoffJitter:     cfg.Resolver.BackoffJitter,
		CacheSize:         cfg.Resolver.CacheSize,
	}
}

// buildWriters fans out to the file writer plus every enabled sink.
func buildWriters(cfg *config.Config, db *database.DB, logger zerolog.Logger, metrics *observability.Metrics) (*store.Multi, *store.FileWriter, error) {
	var fileOpts []store.FileOption
	if cfg.S3.Enabled {
		exporter, err := store.NewS3Exporter(cfg.S3, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create s3 exporter: %w", err)
		}
		fileOpts = append(fileOpts, store.WithExporters(exporter))
	}

	fileWriter, err := store.NewFileWriter(cfg.Harvest.OutputDir, logger, fileOpts...)
	if err != nil {
		return nil, nil, err
	}
	multi := store.NewMulti(logger, metrics).Add("file", fileWriter)

	if db != nil {
		multi.Add("postgres", store.NewPgWriter(db, cfg.Database.Table))
	}
	if cfg.Kafka.Enabled {
		publisher, err := store.NewKafkaPublisher(cfg.Kafka, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		multi.Add("kafka", publisher)
	}
	return multi, fileWriter, nil
}

// buildSource picks the paper list: existing files, stored unavailable
// papers, or a fresh DBLP query.
func buildSource(
	cfg *config.Config,
	catalog *venues.Catalog,
	db *database.DB,
	fileWriter *store.FileWriter,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) metadata.Source {
	years := metadata.YearRange{From: cfg.Harvest.YearFrom, To: cfg.Harvest.YearTo}

	switch {
	case cfg.Harvest.InputDir != "":
		logger.Info().Str("dir", cfg.Harvest.InputDir).Msg("reading papers from existing files")
		return metadata.NewFileSource(catalog, metadata.FileSourceConfig{
			Dir:              cfg.Harvest.InputDir,
			Years:            years,
			Venues:           cfg.Harvest.Venues,
			RetryUnavailable: cfg.Harvest.RetryUnavailable,
		}, logger)

	case cfg.Harvest.RetryUnavailable && db != nil:
		logger.Info().Msg("retrying papers stored as unavailable")
		return metadata.NewPgSource(db, catalog, metadata.PgSourceConfig{
			Table:  cfg.Database.Table,
			Years:  years,
			Venues: cfg.Harvest.Venues,
		}, logger)
	}

	client := httpx.New(httpx.ClientConfig{
		Timeout:    cfg.Metadata.Timeout,
		RateLimit:  2,
		BurstSize:  1,
		MaxRetries: cfg.Metadata.MaxRetries,
		UserAgent:  cfg.Network.UserAgent,
	})
	opts := []metadata.DBLPOption{metadata.WithDBLPMetrics(metrics)}
	if cfg.Harvest.Resume {
		opts = append(opts, metadata.WithSkip(fileWriter.Exists))
	}
	return metadata.NewDBLP(client, catalog, metadata.DBLPConfig{
		BaseURL:     cfg.Metadata.BaseURL,
		PageSize:    cfg.Metadata.PageSize,
		PageDelay:   cfg.Metadata.PageDelay,
		Concurrency: cfg.Metadata.Concurrency,
		Years:       years,
		Venues:      cfg.Harvest.Venues,
	}, logger, opts...)
}
