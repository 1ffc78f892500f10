// Package common contains shared constants and sentinel errors used across
// zonemedia components.
package common

// AccessTokenHeaderName is the gRPC/HTTP metadata key used to carry the
// access token on outbound manifest requests.
const AccessTokenHeaderName = "access_token"

// AlbumPrefix prefixes the zone id in local album names: "Zone-<zoneId>".
const AlbumPrefix = "Zone-"

// PartSuffix marks an incomplete download on disk.
const PartSuffix = ".part"
