// Package msgfmt renders alert messages.
//
// A Message is built once from a title and an ordered list of fields, and
// carries two renderings of the same content:
//   - Plain: a fixed-width block meant for monospace display
//   - Rich:  Plain, HTML-escaped, wrapped in <pre>
//
// Rich is always derived from Plain byte-for-byte; callers never compose it
// separately.
package msgfmt
