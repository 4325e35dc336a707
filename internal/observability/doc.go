// Package observability provides logging and metrics support for the paper
// harvester.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithRunContext(logger, runID, "a", "conf")
//
// Proxy addresses are logged through WithProxyContext, which strips
// credentials.
//
// # Metrics
//
//	metrics := observability.NewMetrics("paper_harvester")
//	metrics.RecordPaperResolved("openalex", 1.2)
//
// All Record methods accept a nil receiver.
//
// # Standard Fields
//
//   - run_id: Harvest run identifier
//   - venue, year: Venue-year being harvested
//   - paper_id: DOI or DBLP key
//   - source: Abstract source ID
//   - proxy: Proxy address without userinfo
package observability
