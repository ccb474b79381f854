// Package content is the only place that talks to the remote content API.
// Fetcher wraps every page and block retrieval with the durable cache,
// Listing memoizes the published-post listing in memory, and BuildHook drives
// cache warming before a site build.
package content
