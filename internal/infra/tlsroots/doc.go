// Package tlsroots builds client TLS configurations for storage
// backends that connect over the network.
//
// Trust starts from the system pool (or an empty one) and is extended
// with PEM files. A client certificate can be attached for servers that
// require mutual TLS.
package tlsroots
