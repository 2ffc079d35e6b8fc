// Package relay supervises one external transcoding process per streaming
// session and moves inbound media chunks into it.
//
// Overview
//
// The package is built from four cooperating pieces:
//
//   1. Process handles (Handle)
//      - Own a single running ffmpeg process: its stdin pipe, its stderr
//        log stream, and its exit notification.
//      - Serialize all writes through a bounded queue drained by one
//        writer goroutine, preserving per-session chunk order.
//
//   2. Session registry (Registry)
//      - Maps session identities to their active handle.
//      - Sequences all mutations for a given session key so that a hot
//        replace can never interleave with a concurrent stop.
//
//   3. Supervisor
//      - Creates, replaces, and tears down handles, enforcing at most one
//        live process per session.
//      - Observes process exits asynchronously and reports lifecycle
//        transitions back to the owning session through an Emitter.
//
//   4. Relay
//      - Writes inbound chunks into the owning session's handle under
//        backpressure, pausing intake for that session only.
//
// Output fan-out is expressed to ffmpeg through the tee muxer with one
// duplicate per destination, each configured with onfail=ignore so that a
// single unreachable destination never aborts delivery to the others.
//
// Failure semantics
//
// Every failure is session-scoped. Spawn failures are reported once and
// never retried; mid-stream crashes surface as a stopped status with exit
// detail and the session may recover only by issuing a fresh start. Nothing
// in this package terminates the process on a per-session error.
package relay
