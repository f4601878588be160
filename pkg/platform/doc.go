// Package platform provides the REST client and table metadata for a
// ServiceNow-class low-code platform instance.
//
// The Client interface wraps the Table API: Execute performs one
// authenticated request and returns the raw response body, Query runs an
// encoded sysparm_query against a collection. Errors carry the HTTP status
// so callers can classify them (authentication, throttling, validation).
//
// The KindSpec registry maps each artifact kind to its primary table and
// the secondary collections consulted during verification. The Prober
// caches instance build metadata with a TTL for health checks.
package platform
