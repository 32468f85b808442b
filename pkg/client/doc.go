// Package client wires a bunq session from configuration.
//
// Open verifies a config.Config, builds the logger, the storage engine
// and (optionally) Prometheus metrics, then creates and sets up a
// session.Session:
//
//	cfg, err := config.Load("bunqsession.yaml", nil)
//	c, err := client.Open(ctx, cfg)
//	defer c.Close()
//	err = c.Handshake(ctx, transport)
//
// WatchConfig reloads the log level when the configuration file changes.
package client
