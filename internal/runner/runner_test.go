package runner

import (
    "context"
    "io"
    "sync/atomic"
    "testing"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/goleak"
    "instrument-emulator/internal/event"
    "instrument-emulator/internal/task"
)

func TestMain(m *testing.M) {
    goleak.VerifyTestMain(m)
}

func newTestLogger() *logrus.Logger {
    log := logrus.New()
    log.SetOutput(io.Discard)
    return log
}

func TestDispatchPreservesOrder(t *testing.T) {
    r := New(newTestLogger())
    defer r.Close()

    var got []string
    r.Handle(event.VerbSetValves, func(ev event.Event) {
        got = append(got, ev.Name+"="+ev.Payload)
    })
    r.Handle(event.VerbSendACK, func(ev event.Event) {
        got = append(got, ev.Name+"="+ev.Payload)
    })

    r.RegisterEvent(event.SourceInstrument, "SETVALVES", "PUMP")
    r.RegisterEvent(event.SourceSerial, "SENDACK", "PUMP")
    r.RegisterEvent(event.SourceInstrument, "SETVALVES", "BUILDP")

    assert.Equal(t, 3, r.Pending())
    assert.Equal(t, 3, r.Drain())
    assert.Equal(t, []string{"SETVALVES=PUMP", "SENDACK=PUMP", "SETVALVES=BUILDP"}, got)
}

func TestEventsRegisteredByHandlerRunAfterCurrentBatch(t *testing.T) {
    r := New(newTestLogger())
    defer r.Close()

    var got []string
    r.Handle(event.VerbBeaconLock, func(ev event.Event) {
        got = append(got, "lock")
        r.RegisterEvent(event.SourceInstrument, "STARTBC", "")
    })
    r.Handle(event.VerbStartBeacon, func(ev event.Event) {
        got = append(got, "start")
    })
    r.Handle(event.VerbSendACK, func(ev event.Event) {
        got = append(got, "ack")
    })

    r.RegisterEvent(event.SourceInstrument, "BEACONLOCK", "ON")
    r.RegisterEvent(event.SourceInstrument, "SENDACK", "X")

    assert.Equal(t, 3, r.Drain())
    assert.Equal(t, []string{"lock", "ack", "start"}, got)
}

func TestUnknownVerbIsNoop(t *testing.T) {
    r := New(newTestLogger())
    defer r.Close()

    called := false
    r.Handle(event.VerbSendACK, func(event.Event) { called = true })

    r.RegisterEvent(event.SourceInstrument, "NOPE", "1")
    assert.Equal(t, 1, r.Drain())
    assert.False(t, called)
}

func TestHandlerPanicDoesNotStopLoop(t *testing.T) {
    r := New(newTestLogger())
    defer r.Close()

    calls := 0
    r.Handle(event.VerbSendTick, func(event.Event) { panic("boom") })
    r.Handle(event.VerbSendBeacon, func(event.Event) { calls++ })

    r.RegisterEvent(event.SourceSerial, "SENDTICK", "")
    r.RegisterEvent(event.SourceSerial, "SENDBEACON", "")
    r.Drain()
    assert.Equal(t, 1, calls)
}

func TestEveryRunsOnLoopUntilCancelled(t *testing.T) {
    r := New(newTestLogger())
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- r.Run(ctx) }()

    var ticks atomic.Int32
    tk := r.Every("capture", func() time.Duration { return time.Millisecond }, func() {
        ticks.Add(1)
    })

    require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

    tk.Cancel()
    // 取消后最多还有一次已经在执行中的任务体
    time.Sleep(10 * time.Millisecond)
    frozen := ticks.Load()
    time.Sleep(20 * time.Millisecond)
    assert.Equal(t, frozen, ticks.Load())

    cancel()
    assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCrossTaskCancellation(t *testing.T) {
    r := New(newTestLogger())
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- r.Run(ctx) }()

    var victimTicks atomic.Int32
    victim := r.Every("beacon", func() time.Duration { return time.Millisecond }, func() {
        victimTicks.Add(1)
    })

    var killed atomic.Bool
    var killer atomic.Pointer[task.Task]
    killer.Store(r.Every("capture", func() time.Duration { return 5 * time.Millisecond }, func() {
        self := killer.Load()
        if self == nil || killed.Load() {
            return
        }
        victim.Cancel()
        self.Cancel()
        killed.Store(true)
    }))

    require.Eventually(t, killed.Load, time.Second, time.Millisecond)
    after := victimTicks.Load()
    time.Sleep(20 * time.Millisecond)
    assert.Equal(t, after, victimTicks.Load(), "cancelled task must not tick again")
    assert.True(t, victim.Cancelled())

    cancel()
    <-done
}
