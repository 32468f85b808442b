// Package buildinfo reports the library version.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/bunqsession-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Without ldflags the module version recorded by the Go toolchain is used
// when available.
package buildinfo
