package tak

// Package tak maintains the single outbound connection to the TAK server and
// pushes serialized CoT events over it.
//
// A supervising loop owns the socket for its whole life: connect, drain the
// bounded outbound queue, watch liveness, tear down, reconnect at a fixed
// interval. Producers only ever touch the queue, so a dead server never
// blocks ingest beyond the configured enqueue timeout; under sustained
// backpressure the relay drops events instead of stalling.
