package metrics

import (
	"github.com/smazurov/relaycast/internal/events"
	"github.com/smazurov/relaycast/internal/ffmpeg"
	"github.com/smazurov/relaycast/internal/streams"
)

var (
	knownStatuses = func() []string {
		out := make([]string, len(streams.AllStatuses))
		for i, s := range streams.AllStatuses {
			out[i] = string(s)
		}
		return out
	}()

	knownConnectionStates = []string{
		string(ffmpeg.StateUnknown),
		string(ffmpeg.StateConnecting),
		string(ffmpeg.StateStreaming),
		string(ffmpeg.StateFailed),
	}
)

// Subscribe keeps the worker metrics in step with bus events.
// Returns a function that removes every subscription.
func Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(handleStatusChanged),
		bus.Subscribe(func(e events.ConnectionStateChangedEvent) {
			SetConnectionState(knownConnectionStates, e.NewState)
		}),
		bus.Subscribe(func(e events.ScheduleActionEvent) {
			IncSchedulerAction(e.Action)
		}),
		bus.Subscribe(func(e events.OrphanCleanupEvent) {
			if e.Terminated {
				IncOrphansTerminated()
			}
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func handleStatusChanged(e events.WorkerStatusChangedEvent) {
	SetWorkerStatus(knownStatuses, e.NewStatus)

	switch streams.WorkerStatus(e.NewStatus) {
	case streams.StatusStarting:
		IncWorkerStarts()
		SetConnectionState(knownConnectionStates, string(ffmpeg.StateUnknown))
	case streams.StatusFailed, streams.StatusError:
		IncWorkerExits(e.NewStatus)
	case streams.StatusStopped:
		// Stopping after a failure was already counted as failed.
		if streams.WorkerStatus(e.OldStatus).Active() {
			IncWorkerExits(e.NewStatus)
		}
		ResetEncoderMetrics()
	}
}
