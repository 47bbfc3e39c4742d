// Package resolver materializes content-addressed object graphs.
//
// Starting from a root hash, the resolver walks the child references of each
// record breadth-first, fetching missing records through a Fetcher and
// verifying every one against its address. The walk is bounded: a depth
// budget caps how many levels may be materialized, and resolution fails
// outright when the graph is deeper than the budget. Records reachable
// through several paths are fetched once.
package resolver
