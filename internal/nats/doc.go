// Package nats connects the controller to NATS: it mirrors bus events to
// subjects for external monitoring and answers control requests.
//
// # Subject Hierarchy
//
//	relaycast.events.status       # WorkerStatusChangedEvent (controller → subscribers)
//	relaycast.events.connection   # ConnectionStateChangedEvent
//	relaycast.events.schedule     # ScheduleActionEvent
//	relaycast.events.orphans      # OrphanCleanupEvent
//	relaycast.control.{action}    # request/reply: start, stop, status
//
// Events are fire-and-forget core NATS messages (no JetStream). Control
// subjects are request/reply; a ControlReply is always returned.
//
// The controller embeds a server on 127.0.0.1 unless an external URL is
// configured. The worker does not use NATS: it talks to the controller over
// its stdout line protocol.
//
// # Debugging with the nats CLI
//
//	nats sub "relaycast.events.>"
//	nats req relaycast.control.status '{}'
//	nats req relaycast.control.stop '{"reason":"maintenance"}'
package nats
