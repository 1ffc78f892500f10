// Package services contains the application services of the zonemedia
// client. MediaService is the reconciliation engine: it reconciles a zone's
// remote media manifest into the zone's local album and serves the cached
// items to the caller.
package services
