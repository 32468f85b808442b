// Package metric provides Prometheus metrics for bunqsession.
//
// Registry implements session.Metrics with counters for loads, stores,
// destroys and handshake steps plus a keypair generation histogram.
// Collector reports the current handshake state of a session at scrape
// time.
package metric
