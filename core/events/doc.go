// Package events defines the typed dialogue event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - turn.*
//   - typing.*
//   - dormancy.*
//   - broadcast.*
//   - orchestrator.*
//
// session events
//
//   - SessionLoaded (session.loaded): today's session was resolved and its
//     turns seeded into the message store.
//   - SessionLoadFailed (session.load_failed): the session could not be
//     resolved; nothing progresses until a reload.
//
// turn events
//
//   - TurnAppended (turn.appended): a turn became visible. Origin tells a
//     generated turn apart from an announcement, a human interjection or a
//     turn received from another process.
//   - TurnEchoSuppressed (turn.echo_suppressed): a broadcast turn was dropped
//     because it was produced locally or is already present.
//   - TurnGenerationFailed (turn.generation_failed): the generator failed; the
//     speaker and order are unchanged.
//   - TurnPersistenceFailed (turn.persistence_failed): a visible turn could not
//     be written to the store. The turn stays visible.
//
// typing events
//
//   - TypingStarted (typing.started): a speaker is shown as composing.
//   - TypingStopped (typing.stopped): the typing indicator was cleared.
//
// dormancy events
//
//   - DormancyStarted (dormancy.started): the daily window began; carries the
//     instant the wake timer fires.
//   - DormancyEnded (dormancy.ended): the window ended and ticking resumes.
//
// broadcast events
//
//   - BroadcastLost (broadcast.lost): the stream of turns from other
//     processes ended. The orchestrator resubscribes with backoff.
//   - BroadcastRestored (broadcast.restored): the stream was reopened and the
//     turns missed in between were merged.
//
// orchestrator events
//
//   - StateChanged (orchestrator.state_changed): the lifecycle state moved.
package events
