// Package zoneerrors defines the typed errors passed between the config
// pipeline, the resolver factory and the query handler. Config-pipeline and
// query-pipeline errors never crash the process after startup: they always
// reduce to log+skip or a DNS-level response code.
package zoneerrors

import "errors"

// Fatal startup-only errors. Anything reached after the listeners are up
// must never surface these.
var (
	ErrWatcherSubscribe = errors.New("config watcher: failed to subscribe to directory")
	ErrBind             = errors.New("listener: failed to bind socket")
)

// ParseError is returned by the config loader (C1) when a zone file fails to
// parse or fails validation. The offending file is skipped by the watcher.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return "parse " + e.Path + ": " + e.Reason
}

// FactoryError is returned by the resolver factory (C3) when a Config cannot
// be turned into an upstream resolver. The reconciler skips the upsert and
// retains whatever catalog entry already existed.
type FactoryError struct {
	Config string
	Reason string
}

func (e *FactoryError) Error() string {
	return "build resolver for " + e.Config + ": " + e.Reason
}

// UpstreamError is returned by a forwarder when a query to an upstream
// nameserver fails at the transport level. The query handler (C5) maps it to
// SERVFAIL.
type UpstreamError struct {
	Upstream string
	Reason   string
}

func (e *UpstreamError) Error() string {
	return "upstream " + e.Upstream + ": " + e.Reason
}
