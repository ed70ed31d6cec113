/*
Package commitlog persists committed write sets to an append-only binary
log.

The Writer plugs into the executor as a CommitListener: finalize hands it
one write set per transaction, in order, and a background goroutine
encodes and writes them so the commit path never blocks on I/O. Close
drains the queue, flushes and reports any deferred write error.

The log format is a fixed header (magic number, format version) followed
by one length-prefixed record per transaction, all little-endian. ReadAll
decodes a complete log, e.g. to replay a block's effects into another
store.
*/
package commitlog
