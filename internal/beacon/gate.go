package beacon

import (
    "errors"
    "fmt"
    "io"
    "time"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/event"
    "instrument-emulator/internal/monitor"
    "instrument-emulator/internal/parser"
    "instrument-emulator/internal/runner"
    "instrument-emulator/internal/transport"
    "instrument-emulator/pkg/protocol"
)

// Gate 串口侧的协议处理：信标启停、应答、测试块与原始写入
type Gate struct {
    log    *logrus.Logger
    sched  *Scheduler
    enc    Encoder
    out    io.Writer
    source ValueSource
    sink   event.Sink
}

func NewGate(sched *Scheduler, enc Encoder, out io.Writer, source ValueSource, sink event.Sink, log *logrus.Logger) *Gate {
    return &Gate{
        log:    log,
        sched:  sched,
        enc:    enc,
        out:    out,
        source: source,
        sink:   sink,
    }
}

func (g *Gate) Register(r runner.Router) {
    r.Handle(event.VerbSerialInit, g.SerialInit)
    r.Handle(event.VerbSerialConfig, g.SerialConfig)
    r.Handle(event.VerbSerialWrite, g.SerialWrite)
    r.Handle(event.VerbStartBeacon, g.StartBeacon)
    r.Handle(event.VerbStopBeacon, g.StopBeacon)
    r.Handle(event.VerbSendACK, g.SendACK)
    r.Handle(event.VerbSendBlock, g.SendBlock)
    r.Handle(event.VerbBeaconTick, g.SetBeaconTick)
    r.Handle(event.VerbSendBeacon, g.SendBeacon)
    r.Handle(event.VerbSendTick, g.SendTick)
}

func (g *Gate) SerialInit(ev event.Event) {
    g.log.Debug("串口初始化")
}

func (g *Gate) SerialConfig(ev event.Event) {
    g.log.Debug("串口配置写入")
    g.write([]byte(ev.Payload))
}

func (g *Gate) SerialWrite(ev event.Event) {
    g.log.Info("串口原始写入")
    g.write([]byte(ev.Payload))
}

// StartBeacon 已在运行时不应答
func (g *Gate) StartBeacon(ev event.Event) {
    if !g.sched.Start() {
        return
    }
    g.ack(event.VerbStartBeacon.String())
    g.callback("Beacon was enabled.")
}

// StopBeacon 未运行时不应答
func (g *Gate) StopBeacon(ev event.Event) {
    if !g.sched.Stop() {
        return
    }
    g.ack(event.VerbStopBeacon.String())
    g.callback("Beacon was stopped.")
}

func (g *Gate) SendACK(ev event.Event) {
    g.ack(ev.Payload)
}

// SendBlock 入队测试波形，可选参数为截断长度
func (g *Gate) SendBlock(ev event.Event) {
    limit := -1
    if args := (parser.Command{Payload: ev.Payload}).Args(); len(args) > 0 {
        n, err := parser.ParseInt("SENDBLOCK", args[len(args)-1])
        if err == nil && n < 0 {
            err = &parser.ParseError{Field: "SENDBLOCK", Value: ev.Payload, Err: errors.New("negative length")}
        }
        if err != nil {
            g.parseFailed(err)
            return
        }
        limit = int(n)
    }

    n := g.sched.SendBurst(Waveform(), limit)
    g.log.Debugf("测试块入队: %d 个负载", n)
    g.callback("Block Sent ...")
}

// SetBeaconTick 仅在信标运行时修改周期（秒）
func (g *Gate) SetBeaconTick(ev event.Event) {
    if !g.sched.Running() {
        g.callback("Can't do it -> Beacon is not enabled")
        return
    }

    sec, err := parser.ParseFloat("BCTICK", ev.Payload)
    if err == nil {
        // 先在浮点域检查范围，避免转换 Duration 时溢出
        ns := sec * float64(time.Second)
        if !(ns >= float64(MinInterval) && ns <= float64(MaxInterval)) {
            err = &parser.ParseError{Field: "BCTICK", Value: ev.Payload, Err: ErrInvalidInterval}
        } else {
            err = g.sched.SetInterval(time.Duration(ns))
        }
    }
    if err != nil {
        g.parseFailed(err)
        return
    }
    g.callback(fmt.Sprintf("Beacon tick was set to %v", sec))
}

func (g *Gate) SendBeacon(ev event.Event) {
    g.write(g.enc.Encode(nil, g.source.Value(), ""))
    g.callback("Beacon was sent...")
}

// SendTick 无参数发送控制包，有参数时以变体 B 发送
func (g *Gate) SendTick(ev event.Event) {
    if ev.Payload == "" {
        g.write(g.enc.Encode(nil, protocol.ValueControl, ""))
    } else {
        g.write(g.enc.Encode(nil, protocol.ValueControlB, ev.Payload))
    }
    g.callback("TICK was sent...")
}

// ack 立即发送，不经过信标队列
func (g *Gate) ack(verb string) {
    sout := protocol.AckText(verb)
    g.callback("Sending ack via raw : " + sout)
    g.write(g.enc.Encode(nil, protocol.ValueControl, sout))
}

func (g *Gate) write(data []byte) {
    if _, err := g.out.Write(data); err != nil {
        if errors.Is(err, transport.ErrNotConnected) {
            g.log.Debugf("无会话，丢弃 %d 字节", len(data))
            return
        }
        g.log.Warnf("写入失败: %v", err)
    }
}

func (g *Gate) parseFailed(err error) {
    var pe *parser.ParseError
    if errors.As(err, &pe) {
        monitor.ParseErrors.WithLabelValues(pe.Field).Inc()
    }
    g.callback(fmt.Sprintf("Can't convert parameter due: %v", err))
}

func (g *Gate) callback(msg string) {
    g.sink.RegisterEvent(event.SourceSerial, event.VerbCallback.String(), msg)
}
