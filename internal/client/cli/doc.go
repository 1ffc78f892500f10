// Package cli provides the zonemedia command-line client.
//
// It wires configuration, the local database, the download manager, the
// album store and the reconciliation engine, and exposes them as commands.
// With arguments a single command runs and the process exits; without
// arguments an interactive REPL starts together with a background watcher
// that resumes interrupted downloads.
//
// Commands:
//   - sync / list: reconcile or read a zone's cached media
//   - zones: list zones cached on this device
//   - add / save: queue local captures and save them into a zone album
//   - pending / resume / pause / cancel / progress: manage downloads
//
// See App, StartResumeWatcher, and runREPL for details.
package cli
