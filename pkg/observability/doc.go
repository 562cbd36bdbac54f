/*
Package observability exposes Prometheus metrics for the synchronization engine.

A nil *Metrics is valid and records nothing, so library users that do not scrape
metrics never need to construct one.
*/
package observability
