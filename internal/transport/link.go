// Package transport 管理出站写入通道与串口的打开。
package transport

import (
    "errors"
    "io"
    "sync"
    "time"

    "instrument-emulator/internal/monitor"
)

var ErrNotConnected = errors.New("transport: no session attached")

type writeDeadliner interface {
    SetWriteDeadline(t time.Time) error
}

// Link 当前会话的出站写入端，会话断开后写入返回 ErrNotConnected
type Link struct {
    mu           sync.Mutex
    w            io.Writer
    name         string
    writeTimeout time.Duration
}

func NewLink(writeTimeout time.Duration) *Link {
    return &Link{writeTimeout: writeTimeout}
}

// Attach 绑定会话写入端，替换之前的绑定
func (l *Link) Attach(name string, w io.Writer) {
    l.mu.Lock()
    l.w = w
    l.name = name
    l.mu.Unlock()
}

// Detach 只有 w 仍是当前绑定时才解除
func (l *Link) Detach(w io.Writer) {
    l.mu.Lock()
    if l.w == w {
        l.w = nil
        l.name = ""
    }
    l.mu.Unlock()
}

func (l *Link) Connected() bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.w != nil
}

// Peer 当前会话名称
func (l *Link) Peer() string {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.name
}

func (l *Link) Write(p []byte) (int, error) {
    l.mu.Lock()
    defer l.mu.Unlock()

    if l.w == nil {
        return 0, ErrNotConnected
    }
    if d, ok := l.w.(writeDeadliner); ok && l.writeTimeout > 0 {
        _ = d.SetWriteDeadline(time.Now().Add(l.writeTimeout))
    }

    n, err := l.w.Write(p)
    monitor.BytesSent.Add(float64(n))
    return n, err
}
