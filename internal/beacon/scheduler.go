// Package beacon 周期性发送信标：队列非空时每周期发送一个待发负载，否则发送当前传感器读数。
package beacon

import (
    "errors"
    "io"
    "math"
    "sync"
    "sync/atomic"
    "time"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/monitor"
    "instrument-emulator/internal/task"
    "instrument-emulator/pkg/protocol"
)

const (
    DefaultInterval = 250 * time.Millisecond
    MinInterval     = time.Millisecond
    MaxInterval     = time.Hour

    ResetMarker = "RESETMEAS"
    EndMarker   = "ENDMEAS"
)

var ErrInvalidInterval = errors.New("beacon: interval must be between 1ms and 1h")

// Encoder 出站包编码器
type Encoder interface {
    Encode(header []byte, value int64, text string) []byte
}

// ValueSource 当前读数来源
type ValueSource interface {
    Value() int64
}

// Publisher 发送记录的旁路发布，不能阻塞
type Publisher interface {
    Publish(rec *protocol.Record)
}

// Payload 待发送负载。Live 为 true 时数值在发送时从传感器读取。
type Payload struct {
    Value int64
    Text  string
    Live  bool
}

func TextPayload(text string) Payload {
    return Payload{Text: text, Live: true}
}

func ValuePayload(v int64) Payload {
    return Payload{Value: v}
}

func ControlPayload(text string) Payload {
    return Payload{Value: protocol.ValueControl, Text: text}
}

type Scheduler struct {
    log    *logrus.Logger
    tasks  task.Scheduler
    enc    Encoder
    out    io.Writer
    source ValueSource
    pub    Publisher

    interval atomic.Int64

    mu    sync.Mutex
    task  *task.Task
    queue []Payload
}

func NewScheduler(tasks task.Scheduler, enc Encoder, out io.Writer, source ValueSource, log *logrus.Logger) *Scheduler {
    s := &Scheduler{
        log:    log,
        tasks:  tasks,
        enc:    enc,
        out:    out,
        source: source,
    }
    s.interval.Store(int64(DefaultInterval))
    return s
}

// SetPublisher 设置旁路发布（可选）
func (s *Scheduler) SetPublisher(pub Publisher) {
    s.pub = pub
}

// Start 创建周期任务；已在运行时返回 false
func (s *Scheduler) Start() bool {
    s.mu.Lock()
    defer s.mu.Unlock()

    if s.task != nil {
        return false
    }
    s.task = s.tasks.Every("beacon", s.Interval, s.tick)
    s.log.Info("信标任务已启动")
    return true
}

// Stop 取消周期任务并清除句柄；未运行时返回 false
func (s *Scheduler) Stop() bool {
    s.mu.Lock()
    defer s.mu.Unlock()

    if s.task == nil {
        return false
    }
    s.task.Cancel()
    s.task = nil
    s.log.Info("信标任务已停止")
    return true
}

func (s *Scheduler) Running() bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.task != nil
}

func (s *Scheduler) SetInterval(d time.Duration) error {
    if d < MinInterval || d > MaxInterval {
        return ErrInvalidInterval
    }
    s.interval.Store(int64(d))
    return nil
}

func (s *Scheduler) Interval() time.Duration {
    return time.Duration(s.interval.Load())
}

func (s *Scheduler) Enqueue(p Payload) {
    s.mu.Lock()
    s.queue = append(s.queue, p)
    n := len(s.queue)
    s.mu.Unlock()

    monitor.OutboundQueueDepth.Set(float64(n))
}

// SendBurst 入队 RESETMEAS、values（limit >= 0 时截断）、ENDMEAS
func (s *Scheduler) SendBurst(values []int64, limit int) int {
    if limit >= 0 && limit < len(values) {
        values = values[:limit]
    }

    s.mu.Lock()
    s.queue = append(s.queue, ControlPayload(ResetMarker))
    for _, v := range values {
        s.queue = append(s.queue, ValuePayload(v))
    }
    s.queue = append(s.queue, ControlPayload(EndMarker))
    n := len(s.queue)
    s.mu.Unlock()

    monitor.OutboundQueueDepth.Set(float64(n))
    return len(values) + 2
}

// Pending 队列中的负载数
func (s *Scheduler) Pending() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.queue)
}

// tick 每周期只发送一个负载
func (s *Scheduler) tick() {
    s.mu.Lock()
    var (
        p      Payload
        queued bool
    )
    if len(s.queue) > 0 {
        p = s.queue[0]
        s.queue[0] = Payload{}
        s.queue = s.queue[1:]
        queued = true
    }
    n := len(s.queue)
    s.mu.Unlock()

    monitor.OutboundQueueDepth.Set(float64(n))

    kind := "value"
    if queued {
        kind = "queued"
        if p.Live {
            p.Value = s.source.Value()
        }
        s.log.Debugf("发送队列负载: value=%d text=%q", p.Value, p.Text)
    } else {
        p = ValuePayload(s.source.Value())
    }

    s.transmit(kind, p)
}

func (s *Scheduler) transmit(kind string, p Payload) {
    pkt := s.enc.Encode(nil, p.Value, p.Text)
    if _, err := s.out.Write(pkt); err != nil {
        s.log.Debugf("信标发送失败: %v", err)
    }
    monitor.BeaconsSent.WithLabelValues(kind).Inc()

    if s.pub != nil {
        s.pub.Publish(&protocol.Record{
            Timestamp: time.Now(),
            Kind:      protocol.RecordBeacon,
            Value:     p.Value,
            Text:      p.Text,
        })
    }
}

// Waveform 测试用的正弦块：int((sin(2πx)+2)*10000)，x 从 0 到 1 步长 0.025
func Waveform() []int64 {
    const steps = 40
    out := make([]int64, steps)
    for i := range out {
        x := float64(i) * 0.025
        out[i] = int64((math.Sin(2*math.Pi*x) + 2) * 10000)
    }
    return out
}
