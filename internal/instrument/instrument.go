// Package instrument 实现仪器侧（INSTRU）的协议处理以及采集任务：
// 采集任务每个周期推进一次帧解析器和传感器模型。
package instrument

import (
    "errors"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/event"
    "instrument-emulator/internal/monitor"
    "instrument-emulator/internal/parser"
    "instrument-emulator/internal/runner"
    "instrument-emulator/internal/sensor"
    "instrument-emulator/internal/task"
)

type Options struct {
    TickInterval   time.Duration
    CaptureTimeout int
}

type Instrument struct {
    log          *logrus.Logger
    tasks        task.Scheduler
    sink         event.Sink
    sim          *sensor.Simulator
    frames       *parser.FrameParser
    tickInterval time.Duration

    mu      sync.Mutex
    capture *task.Task
}

func New(opts Options, sim *sensor.Simulator, tasks task.Scheduler, sink event.Sink, log *logrus.Logger) *Instrument {
    if opts.TickInterval <= 0 {
        opts.TickInterval = 100 * time.Millisecond
    }

    i := &Instrument{
        log:          log,
        tasks:        tasks,
        sink:         sink,
        sim:          sim,
        tickInterval: opts.TickInterval,
    }
    dispatcher := parser.NewDispatcher(event.SourceInstrument, sink)
    i.frames = parser.NewFrameParser(opts.CaptureTimeout, func(text string) {
        dispatcher.Dispatch(text)
    }, log)
    return i
}

// Feed 传输层收到的原始字节
func (i *Instrument) Feed(raw []byte) {
    i.frames.Feed(raw)
}

// ResetSession 新会话开始时丢弃上一个会话未完成的帧
func (i *Instrument) ResetSession() {
    i.frames.Discard()
}

func (i *Instrument) Simulator() *sensor.Simulator {
    return i.sim
}

func (i *Instrument) Frames() *parser.FrameParser {
    return i.frames
}

// Start 创建采集任务；已在运行时返回 false
func (i *Instrument) Start() bool {
    i.mu.Lock()
    defer i.mu.Unlock()

    if i.capture != nil {
        return false
    }
    i.capture = i.tasks.Every("capture", func() time.Duration { return i.tickInterval }, i.step)
    return true
}

// Stop 取消采集任务；未运行时返回 false
func (i *Instrument) Stop() bool {
    i.mu.Lock()
    defer i.mu.Unlock()

    if i.capture == nil {
        return false
    }
    i.capture.Cancel()
    i.capture = nil
    return true
}

func (i *Instrument) Running() bool {
    i.mu.Lock()
    defer i.mu.Unlock()
    return i.capture != nil
}

func (i *Instrument) step() {
    i.frames.Tick()
    i.sim.Tick()
    monitor.SensorValue.Set(float64(i.sim.Value()))
}

func (i *Instrument) Register(r runner.Router) {
    r.Handle(event.VerbSetDumpGain, i.SetDumpGain)
    r.Handle(event.VerbSetDumpThreshold, i.SetDumpThreshold)
    r.Handle(event.VerbSetValves, i.SetValves)
    r.Handle(event.VerbSetInstrument, i.SetInstrument)
    r.Handle(event.VerbBeaconLock, i.BeaconLock)
    r.Handle(event.VerbSensorsLock, i.SensorsLock)
    r.Handle(event.VerbRestartInstrument, i.Restart)
    r.Handle(event.VerbStopInstrument, i.StopInstrument)
}

// SetDumpGain SETSETRADUMPGAIN=<float>
func (i *Instrument) SetDumpGain(ev event.Event) {
    const field = "SETRADUMPGAIN"

    g, err := parser.ParseFloat(field, ev.Payload)
    if err == nil {
        err = i.sim.SetDumpGain(g)
    }
    if err != nil {
        i.parseFailed(err)
        i.ack(field + "=ERROR")
        return
    }

    i.callback("Setra Dumpgain was set to " + ev.Payload)
    i.ack(field + "=" + ev.Payload)
}

// SetDumpThreshold SETSETRADUMPTHRS=<float>
func (i *Instrument) SetDumpThreshold(ev event.Event) {
    const field = "SETRADUMPTHRS"

    v, err := parser.ParseFloat(field, ev.Payload)
    if err == nil {
        err = i.sim.SetDumpThreshold(v)
    }
    if err != nil {
        i.parseFailed(err)
        i.ack(field + "=ERROR")
        return
    }

    i.callback("Setra Dumpthreshold was set to " + ev.Payload)
    i.ack(field + "=" + ev.Payload)
}

// SetValves BUILDP 升压，PUMP 抽气
func (i *Instrument) SetValves(ev event.Event) {
    ack := "INVALID"
    switch {
    case strings.Contains(ev.Payload, "BUILDP"):
        i.applyInstrument("UP")
        i.callback("Valves set to UP")
        ack = "BUILDPACK"
    case strings.Contains(ev.Payload, "PUMP"):
        i.applyInstrument("DOWN")
        i.callback("Valves set to down")
        ack = "PUMP"
    default:
        i.log.Infof("SETVALVES 参数无效: %q", ev.Payload)
    }
    i.ack(ack)
}

// SetInstrument SETINSTRU[=UP|DOWN|base:time]
func (i *Instrument) SetInstrument(ev event.Event) {
    i.applyInstrument(ev.Payload)
}

func (i *Instrument) applyInstrument(payload string) {
    prev := i.sim.SetLocked(true)
    defer i.sim.SetLocked(prev)

    switch {
    case payload == "":
        i.sim.RestartRamp()
    case strings.Contains(payload, "UP"):
        i.sim.SetDirection(sensor.Up)
        i.callback("Setra is going up")
    case strings.Contains(payload, "DOWN"):
        i.sim.SetDirection(sensor.Down)
        i.callback("Setra is going down")
    default:
        if err := i.configureRamp(payload); err != nil {
            i.parseFailed(err)
        }
    }
}

func (i *Instrument) configureRamp(payload string) error {
    args := parser.Command{Payload: payload}.Args()
    if len(args) != 2 {
        return &parser.ParseError{Field: "SETINSTRU", Value: payload, Err: errors.New("expected base:time")}
    }

    base, err := parser.ParseFloat("SETINSTRU", args[0])
    if err != nil {
        return err
    }
    total, err := parser.ParseFloat("SETINSTRU", args[1])
    if err != nil {
        return err
    }
    return i.sim.ConfigureRamp(base, total)
}

// BeaconLock ON 启动信标，OFF 停止
func (i *Instrument) BeaconLock(ev event.Event) {
    switch {
    case strings.Contains(ev.Payload, "ON"):
        i.sink.RegisterEvent(event.SourceInstrument, event.VerbStartBeacon.String(), "")
    case strings.Contains(ev.Payload, "OFF"):
        i.sink.RegisterEvent(event.SourceInstrument, event.VerbStopBeacon.String(), "")
    default:
        i.callback(`Beacon Lock mode must be "ON" or "OFF"`)
    }
}

func (i *Instrument) SensorsLock(ev event.Event) {
    switch {
    case strings.Contains(ev.Payload, "ON"):
        i.sim.Lock()
        i.callback("Sensors are locked")
    case strings.Contains(ev.Payload, "OFF"):
        i.sim.Unlock()
        i.callback("Sensors unlocked")
    default:
        i.callback(`Lock mode must be "ON" or "OFF"`)
    }
}

// Restart 停止采集、清空解析器、重置模型，然后重新启动采集任务
func (i *Instrument) Restart(ev event.Event) {
    i.stop()

    i.frames.Reset()
    i.sim.Reset()
    i.Start()

    i.ack(event.VerbRestartInstrument.String())
    i.callback("Instrument task was enabled - Sensors unlocked - Beacon is inactive")
    i.callback(fmt.Sprintf("Dumping Threshold is %v", i.sim.DumpThreshold()))
    i.log.Info("仪器任务已重启")
}

func (i *Instrument) StopInstrument(ev event.Event) {
    i.stop()
}

func (i *Instrument) stop() {
    if !i.Stop() {
        return
    }
    i.sink.RegisterEvent(event.SourceInstrument, event.VerbStopBeacon.String(), "")
    i.sim.Lock()
    i.callback("Instrument task stopped - sensors are locked - Beacon was cancelled")
    i.log.Info("仪器任务已停止")
}

func (i *Instrument) ack(payload string) {
    i.sink.RegisterEvent(event.SourceInstrument, event.VerbSendACK.String(), payload)
}

func (i *Instrument) parseFailed(err error) {
    var pe *parser.ParseError
    if errors.As(err, &pe) {
        monitor.ParseErrors.WithLabelValues(pe.Field).Inc()
    }
    i.callback(fmt.Sprintf("Can't convert parameter due: %v", err))
}

func (i *Instrument) callback(msg string) {
    i.sink.RegisterEvent(event.SourceInstrument, event.VerbCallback.String(), msg)
}
