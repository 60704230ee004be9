package beacon

import (
    "bytes"
    "io"
    "sync"
    "testing"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "instrument-emulator/internal/task"
    "instrument-emulator/pkg/protocol"
)

func newTestLogger() *logrus.Logger {
    log := logrus.New()
    log.SetOutput(io.Discard)
    return log
}

// manualTasks 手动驱动的任务调度器
type manualTasks struct {
    mu     sync.Mutex
    tasks  []*task.Task
    bodies []func()
}

func (m *manualTasks) Every(name string, interval func() time.Duration, body func()) *task.Task {
    m.mu.Lock()
    defer m.mu.Unlock()

    t := task.New(name)
    m.tasks = append(m.tasks, t)
    m.bodies = append(m.bodies, body)
    return t
}

func (m *manualTasks) created() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.tasks)
}

func (m *manualTasks) live() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    n := 0
    for _, t := range m.tasks {
        if !t.Cancelled() {
            n++
        }
    }
    return n
}

// tick 执行所有未取消任务的一个周期
func (m *manualTasks) tick() {
    m.mu.Lock()
    var run []func()
    for i, t := range m.tasks {
        if !t.Cancelled() {
            run = append(run, m.bodies[i])
        }
    }
    m.mu.Unlock()

    for _, fn := range run {
        fn()
    }
}

type fixedSource struct{ v int64 }

func (f *fixedSource) Value() int64 { return f.v }

type recordingPublisher struct {
    records []*protocol.Record
}

func (r *recordingPublisher) Publish(rec *protocol.Record) {
    r.records = append(r.records, rec)
}

func decodeAll(t *testing.T, data []byte) []*protocol.Packet {
    t.Helper()
    var out []*protocol.Packet
    for len(data) > 0 {
        p, n, err := protocol.Decode(data)
        require.NoError(t, err)
        out = append(out, p)
        data = data[n:]
    }
    return out
}

func newTestScheduler() (*Scheduler, *manualTasks, *bytes.Buffer, *fixedSource) {
    tasks := &manualTasks{}
    out := &bytes.Buffer{}
    src := &fixedSource{v: 64000}
    s := NewScheduler(tasks, protocol.NewEncoder(), out, src, newTestLogger())
    return s, tasks, out, src
}

func TestStartStopIdempotent(t *testing.T) {
    t.Parallel()

    s, tasks, _, _ := newTestScheduler()
    assert.False(t, s.Running())

    assert.True(t, s.Start())
    assert.False(t, s.Start())
    assert.Equal(t, 1, tasks.created())
    assert.Equal(t, 1, tasks.live())
    assert.True(t, s.Running())

    assert.True(t, s.Stop())
    assert.False(t, s.Stop())
    assert.Equal(t, 0, tasks.live())
    assert.False(t, s.Running())

    // 停止后可再次启动
    assert.True(t, s.Start())
    assert.Equal(t, 2, tasks.created())
    assert.Equal(t, 1, tasks.live())
}

func TestConcurrentStartCreatesOneTask(t *testing.T) {
    t.Parallel()

    s, tasks, _, _ := newTestScheduler()

    var wg sync.WaitGroup
    for i := 0; i < 16; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            s.Start()
        }()
    }
    wg.Wait()
    assert.Equal(t, 1, tasks.created())

    for i := 0; i < 16; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            s.Stop()
        }()
    }
    wg.Wait()
    assert.Equal(t, 0, tasks.live())
}

func TestSendBurstConsumedOnePerPeriod(t *testing.T) {
    t.Parallel()

    s, tasks, out, _ := newTestScheduler()
    pub := &recordingPublisher{}
    s.SetPublisher(pub)

    assert.Equal(t, 5, s.SendBurst([]int64{10, 20, 30}, -1))
    assert.Equal(t, 5, s.Pending())

    require.True(t, s.Start())
    for i := 0; i < 5; i++ {
        tasks.tick()
        assert.Equal(t, 4-i, s.Pending())
    }

    pkts := decodeAll(t, out.Bytes())
    require.Len(t, pkts, 5)
    assert.Equal(t, ResetMarker, pkts[0].Text)
    assert.EqualValues(t, protocol.KindControl, pkts[0].Kind)
    assert.EqualValues(t, 10, pkts[1].Value)
    assert.EqualValues(t, 20, pkts[2].Value)
    assert.EqualValues(t, 30, pkts[3].Value)
    assert.Equal(t, EndMarker, pkts[4].Text)

    // 队列为空时发送当前读数
    out.Reset()
    tasks.tick()
    pkts = decodeAll(t, out.Bytes())
    require.Len(t, pkts, 1)
    assert.EqualValues(t, 64000, pkts[0].Value)
    assert.Empty(t, pkts[0].Text)

    require.Len(t, pub.records, 6)
    assert.Equal(t, protocol.RecordBeacon, pub.records[5].Kind)
}

func TestSendBurstLimit(t *testing.T) {
    t.Parallel()

    s, _, _, _ := newTestScheduler()
    assert.Equal(t, 4, s.SendBurst([]int64{1, 2, 3}, 2))
    assert.Equal(t, 4, s.Pending())

    assert.Equal(t, 2, s.SendBurst([]int64{1, 2, 3}, 0))
    assert.Equal(t, 6, s.Pending())

    assert.Equal(t, 5, s.SendBurst([]int64{1, 2, 3}, 99))
}

func TestLivePayloadUsesCurrentValue(t *testing.T) {
    t.Parallel()

    s, tasks, out, src := newTestScheduler()
    s.Enqueue(TextPayload("HELLO"))
    src.v = 123456

    s.Start()
    tasks.tick()

    pkts := decodeAll(t, out.Bytes())
    require.Len(t, pkts, 1)
    assert.EqualValues(t, 123456, pkts[0].Value)
    assert.Equal(t, "HELLO", pkts[0].Text)
}

func TestNoTickAfterStop(t *testing.T) {
    t.Parallel()

    s, tasks, out, _ := newTestScheduler()
    s.Start()
    tasks.tick()
    s.Stop()
    n := out.Len()
    tasks.tick()
    assert.Equal(t, n, out.Len())
}

func TestSetInterval(t *testing.T) {
    t.Parallel()

    s, _, _, _ := newTestScheduler()
    assert.Equal(t, DefaultInterval, s.Interval())
    require.NoError(t, s.SetInterval(time.Second))
    assert.Equal(t, time.Second, s.Interval())
    assert.ErrorIs(t, s.SetInterval(0), ErrInvalidInterval)
    assert.ErrorIs(t, s.SetInterval(time.Nanosecond), ErrInvalidInterval)
    assert.ErrorIs(t, s.SetInterval(2*time.Hour), ErrInvalidInterval)
    assert.Equal(t, time.Second, s.Interval())
    require.NoError(t, s.SetInterval(MinInterval))
    require.NoError(t, s.SetInterval(MaxInterval))
}

func TestWaveform(t *testing.T) {
    t.Parallel()

    w := Waveform()
    require.Len(t, w, 40)
    assert.EqualValues(t, 20000, w[0])
    assert.InDelta(t, 30000, w[10], 1)
    assert.InDelta(t, 10000, w[30], 1)
    for _, v := range w {
        assert.GreaterOrEqual(t, v, int64(9999))
        assert.LessOrEqual(t, v, int64(30000))
    }
}
