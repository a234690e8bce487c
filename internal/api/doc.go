// Package api exposes the read-only status surface of a running crawl:
// liveness, Prometheus metrics, run progress, proxy health, and the failure
// ledger.
package api
