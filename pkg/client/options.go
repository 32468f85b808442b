package client

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/bunqsession-go/pkg/session"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

type options struct {
	logOutput  io.Writer
	store      storage.Store
	registerer prometheus.Registerer
	session    []session.Option
}

// Option configures Open.
type Option func(*options)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// WithStore uses store instead of opening the configured backend. The
// caller keeps ownership of store.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRegisterer registers metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithSessionOptions passes extra options to session.New.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.session = append(o.session, opts...)
	}
}
