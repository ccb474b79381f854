// Package server hosts the Fiber HTTP service that the site renderer calls for
// content: request IDs, panic recovery, structured request logs, metrics and
// the mapping from remote/cache errors to JSON responses. Routes live in the
// routes subpackage and receive their dependencies explicitly.
package server
