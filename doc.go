// Package hyserial is an asynchronous serial port I/O engine built on
// Linux's io_uring completion queue. A Builder configures and opens a
// device; the resulting Serial exposes non-blocking Send and StartRead with
// results delivered through callbacks from a single dedicated worker
// goroutine.
package hyserial
