// Package queue is the durable failure queue.
//
// Every delivery that could not be completed becomes one JSON file in the
// queue directory. The file is the only record of the pending retry: the
// drainer deletes it on success and rewrites it in place on failure.
//
// File names start with a fixed-width UTC timestamp so lexical order is
// creation order. Writes go to a hidden temp file first and are renamed into
// place, so readers never observe a partial record.
package queue
