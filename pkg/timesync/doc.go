// ABOUTME: Sans-io clock offset synchronization core
// ABOUTME: Probe records, offset estimation, sync sessions and responders
// Package timesync estimates the clock offset between two hosts from
// timestamped round-trip probes.
//
// The package performs no I/O of its own. The embedding application supplies
// three capabilities through the Peer interface: loading the stored offset,
// storing a new offset, and exchanging one probe with the remote side. The
// transport, the persistence format and the scheduling of sync attempts are
// all the caller's concern.
//
// A client runs a Session:
//
//	session := timesync.NewSession(peer)
//	res, err := session.AttemptSync(ctx, timesync.DefaultConfig())
//	if errors.Is(err, timesync.ErrInsufficientSamples) {
//		// network answered, but not usefully; retry later
//	}
//
// A server answers probes with a Responder:
//
//	responder := timesync.NewAuthority(timesync.SystemClock())
//	reply, err := responder.AnswerClient(ctx, req)
//
// Each round yields a Probe with four timestamps (t1 client send, t2 server
// receive, t3 server send, t4 client receive). The sample with the smallest
// round trip wins, because asymmetric queuing error grows with round trip.
//
// A Session has no internal locking. Callers must not run AttemptSync
// concurrently on the same Session or against the same stored offset.
package timesync
