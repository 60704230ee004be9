package parser

import (
    "bytes"
    "strings"
    "sync"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/monitor"
)

// 帧定界符
var (
    StartMarker = []byte{0xFF, 0xFE}
    EndMarker   = []byte{0xFF, 0xF0}
)

const (
    // DefaultCaptureTimeout 起始符之后等待结束符的 tick 数
    DefaultCaptureTimeout = 10

    timeoutDisabled = -1
)

type Mode int

const (
    ModeIdle Mode = iota
    ModeCapturing
)

func (m Mode) String() string {
    if m == ModeCapturing {
        return "CAPTURING"
    }
    return "IDLE"
}

// FrameParser 从字节流中恢复 FF FE ... FF F0 定界的命令串。
// Feed 可以在传输层 goroutine 调用；Tick 只在宿主任务中调用。
type FrameParser struct {
    log     *logrus.Logger
    onFrame func(string)
    budget  int

    inMu    sync.Mutex
    inbound [][]byte
    discard bool

    mode    Mode
    acc     []byte
    timeout int
}

func NewFrameParser(budget int, onFrame func(string), log *logrus.Logger) *FrameParser {
    if budget <= 0 {
        budget = DefaultCaptureTimeout
    }
    return &FrameParser{
        log:     log,
        onFrame: onFrame,
        budget:  budget,
        mode:    ModeIdle,
        timeout: timeoutDisabled,
    }
}

// Feed 追加原始字节
func (p *FrameParser) Feed(raw []byte) {
    if len(raw) == 0 {
        return
    }
    chunk := make([]byte, len(raw))
    copy(chunk, raw)

    p.inMu.Lock()
    p.inbound = append(p.inbound, chunk)
    p.inMu.Unlock()
}

// Tick 每个周期最多执行一次状态迁移，外加超时计数
func (p *FrameParser) Tick() {
    p.inMu.Lock()
    drop := p.discard
    p.discard = false
    p.inMu.Unlock()

    if drop {
        if len(p.acc) > 0 {
            p.log.Debugf("会话切换，丢弃未完成的 %d 字节", len(p.acc))
        }
        p.resetCapture()
    }

    if p.timeout != timeoutDisabled {
        p.timeout--
        if p.timeout <= 0 {
            monitor.FrameTimeouts.Inc()
            p.log.Warnf("命令接收超时，丢弃 %d 字节", len(p.acc))
            p.resetCapture()
        }
    }

    p.inMu.Lock()
    for _, chunk := range p.inbound {
        p.acc = append(p.acc, chunk...)
    }
    p.inbound = nil
    p.inMu.Unlock()

    if len(p.acc) == 0 {
        return
    }

    switch p.mode {
    case ModeIdle:
        idx := bytes.Index(p.acc, StartMarker)
        if idx < 0 {
            p.discardNoise()
            return
        }
        p.acc = p.acc[idx:]
        p.mode = ModeCapturing
        p.timeout = p.budget

    case ModeCapturing:
        // 起始符本身不会匹配结束符，从头搜索即可
        idx := bytes.Index(p.acc, EndMarker)
        if idx < 0 {
            return
        }
        slice := p.acc[:idx+1]
        p.acc = append([]byte(nil), p.acc[idx+1:]...)

        text := decodeFrame(slice)
        p.mode = ModeIdle
        p.timeout = timeoutDisabled

        monitor.FramesParsed.Inc()
        p.log.Debugf("收到命令: %q", text)
        if p.onFrame != nil {
            p.onFrame(text)
        }
    }
}

// Reset 回到 IDLE 并清空全部缓冲
// Discard 丢弃尚未处理的输入，下一个 Tick 回到 IDLE。可在任意 goroutine 调用。
func (p *FrameParser) Discard() {
    p.inMu.Lock()
    p.inbound = nil
    p.discard = true
    p.inMu.Unlock()
}

func (p *FrameParser) Reset() {
    p.inMu.Lock()
    p.inbound = nil
    p.discard = false
    p.inMu.Unlock()
    p.resetCapture()
}

func (p *FrameParser) Mode() Mode {
    return p.mode
}

// Buffered 累加器中的字节数
func (p *FrameParser) Buffered() int {
    return len(p.acc)
}

// TimeoutRemaining 剩余 tick 数，-1 表示未启用
func (p *FrameParser) TimeoutRemaining() int {
    return p.timeout
}

func (p *FrameParser) resetCapture() {
    p.mode = ModeIdle
    p.timeout = timeoutDisabled
    p.acc = nil
}

// discardNoise IDLE 状态下丢弃无用字节，只保留可能是起始符前半部分的 0xFF
func (p *FrameParser) discardNoise() {
    if p.acc[len(p.acc)-1] == StartMarker[0] {
        p.acc = []byte{StartMarker[0]}
        return
    }
    p.acc = nil
}

func decodeFrame(raw []byte) string {
    mapped := make([]byte, len(raw))
    for i, b := range raw {
        switch b {
        case 0xFF, 0xFE, 0xF0:
            mapped[i] = ' '
        default:
            mapped[i] = b
        }
    }
    return strings.ToValidUTF8(strings.TrimSpace(string(mapped)), "\uFFFD")
}
