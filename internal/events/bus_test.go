package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan WorkerStatusChangedEvent, 1)

	unsub := bus.Subscribe(func(e WorkerStatusChangedEvent) {
		received <- e
	})
	defer unsub()

	code := 1
	ev := WorkerStatusChangedEvent{
		RunID:     "run-1",
		OldStatus: "streaming",
		NewStatus: "error",
		ExitCode:  &code,
		Timestamp: time.Now(),
	}
	bus.Publish(ev)

	select {
	case got := <-received:
		if got.NewStatus != "error" || got.ExitCode == nil || *got.ExitCode != 1 {
			t.Errorf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan ScheduleActionEvent, 1)

	unsub := bus.Subscribe(func(e ScheduleActionEvent) {
		received <- e
	})

	bus.Publish(ScheduleActionEvent{Action: ActionStart})
	<-received

	unsub()

	bus.Publish(ScheduleActionEvent{Action: ActionStop})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	orphanReceived := make(chan bool, 1)
	connReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ OrphanCleanupEvent) {
		orphanReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ ConnectionStateChangedEvent) {
		connReceived <- true
	})
	defer unsub2()

	bus.Publish(OrphanCleanupEvent{PID: 42})
	<-orphanReceived

	select {
	case <-connReceived:
		t.Fatal("connection subscriber received an orphan event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ ConnectionStateChangedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(ConnectionStateChangedEvent{NewState: "streaming", Timestamp: time.Now()})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(WorkerStatusChangedEvent{NewStatus: "stopped"})
	unsub := bus.Subscribe(func(WorkerStatusChangedEvent) {
		t.Error("nil bus delivered an event")
	})
	unsub()
}

func TestBus_UnknownHandlerType(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestEventTypesAreDistinct(t *testing.T) {
	seen := map[uint32]string{}
	for name, ev := range map[string]Event{
		"status":     WorkerStatusChangedEvent{},
		"connection": ConnectionStateChangedEvent{},
		"schedule":   ScheduleActionEvent{},
		"orphan":     OrphanCleanupEvent{},
	} {
		if other, dup := seen[ev.Type()]; dup {
			t.Errorf("%s and %s share type %d", name, other, ev.Type())
		}
		seen[ev.Type()] = name
	}
}
