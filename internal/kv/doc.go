// Package kv is the read side of the site configuration document.
//
// The orchestration backend publishes one nested key-value document per host
// (YAML or JSON). alertrelay only ever reads it: a Source answers dotted-path
// lookups ("notifications.telegram.min_severity"), File reads a document from
// disk, Chain consults several sources in order, and Watch reports changes so
// long-running processes can reload derived state.
package kv
