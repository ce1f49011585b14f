// Package worker runs the media sequencing engine inside the worker process.
//
// The engine streams one item or a playlist through a Streamer, retrying
// failed runs with a fixed backoff, looping when configured and reporting
// progress to the controller as tagged lines on stdout:
//
//	[ENCODER] <encoder stdout line>
//	[ENCODER:ERR] <encoder stderr line>
//	[PLAYLIST] item index=<i> key=<k>
//	[PLAYLIST] done index=<i> key=<k>
//	[PLAYLIST] reset
//
// Shutdown is cooperative: cancelling the context ends every wait and the
// engine exits successfully.
package worker
