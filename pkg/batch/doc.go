// Package batch provides settle-all parallel fetching of independent JSON
// resources.
//
// Example usage:
//
//	fetcher := batch.NewFetcher(httpFetcher, batch.DefaultConfig())
//	outcomes := fetcher.FetchAll(ctx, []string{"json/home", "json/careers"})
//
// The batch fetcher:
//   - Spawns a bounded worker pool (default 4 workers)
//   - Applies a per-item timeout
//   - Records one Outcome per key, success or failure
//   - Never aborts the batch because one item failed
package batch
