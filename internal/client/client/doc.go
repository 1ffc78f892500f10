// Package client contains the client-side building blocks that talk to
// the outside world: the remote media manifest and the local database.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic manifest contract (see the ManifestClient
//     interface) returning the media records published for a zone.
//  2. Two implementations: HTTPManifestClient (GET <base>/<zoneId>, JSON)
//     and GRPCManifestClient (a unary call carrying structpb messages, with
//     the access token injected by an interceptor).
//  3. Local persistence bootstrap utilities (InitDatabase, RunMigrations),
//     wiring an SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Transport conditions are exposed as sentinel errors that callers can
// match with errors.Is: ErrUnavailable, ErrUnauthorized, ErrBadManifest.
// A zone the service does not know yields an empty manifest, not an error.
//
// All operations accept context.Context and honor cancellation/timeouts.
package client
