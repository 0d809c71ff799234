/*
Package observability turns engine and slot lifecycle hooks into Prometheus
metrics and structured log lines.

It also exposes the live state of long running components (the resident model,
the sequencer position) as introspection watchers that an Aggregator combines
into one stream.
*/
package observability
