// Package kv provides the durable string-keyed store used for download
// checkpoints and small client settings (such as the remembered media
// access grant).
//
// Two backends exist: SQLiteRepository stores pairs in a table of the local
// cache database, RedisRepository stores them under a key namespace of a
// Redis server. Both return (nil, nil) from Get for an absent key.
package kv
