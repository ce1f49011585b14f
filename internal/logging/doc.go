// Package logging provides structured logging with per-module log level configuration.
//
// Both relaycast processes use it: the controller logs to stdout and the worker
// logs to stderr, because the worker's stdout is reserved for the line protocol
// read by the supervisor. When journald is reachable, records are also sent to
// the journal under SYSLOG_IDENTIFIER=relaycast.
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"supervisor": "debug",
//			"ffmpeg":     "warn",
//		},
//	})
//
//	logger := logging.GetLogger("supervisor").With("run_id", id)
//	logger.Info("Worker started", "pid", pid)
//
// Filter journal output by module:
//
//	journalctl -t relaycast MODULE=scheduler
package logging
