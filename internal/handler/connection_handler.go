package handler

import (
    "context"
    "errors"
    "io"
    "net"
    "time"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/monitor"
    "instrument-emulator/internal/transport"
)

// Feeder 接收原始入站字节
type Feeder interface {
    Feed(raw []byte)
}

// sessionResetter 由需要在会话边界清空状态的 Feeder 实现
type sessionResetter interface {
    ResetSession()
}

type readDeadliner interface {
    SetReadDeadline(t time.Time) error
}

// ConnectionHandler 一个会话（TCP 连接或串口）：入站字节送入帧解析器，出站经 Link 写回
type ConnectionHandler struct {
    conn        io.ReadWriteCloser
    sessionID   string
    feeder      Feeder
    link        *transport.Link
    log         *logrus.Logger
    bufferSize  int
    readTimeout time.Duration
}

func NewConnectionHandler(
    conn io.ReadWriteCloser,
    sessionID string,
    feeder Feeder,
    link *transport.Link,
    log *logrus.Logger,
    bufferSize int,
    readTimeout time.Duration,
) *ConnectionHandler {
    if bufferSize <= 0 {
        bufferSize = 4096
    }

    return &ConnectionHandler{
        conn:        conn,
        sessionID:   sessionID,
        feeder:      feeder,
        link:        link,
        log:         log,
        bufferSize:  bufferSize,
        readTimeout: readTimeout,
    }
}

// Handle 处理会话，直到对端断开或 ctx 取消
func (h *ConnectionHandler) Handle(ctx context.Context) {
    if r, ok := h.feeder.(sessionResetter); ok {
        r.ResetSession()
    }
    h.link.Attach(h.sessionID, h.conn)

    stop := context.AfterFunc(ctx, func() {
        h.conn.Close()
    })

    defer func() {
        stop()
        h.link.Detach(h.conn)
        h.conn.Close()
        monitor.ActiveConnections.Dec()
        h.log.Infof("会话关闭: %s", h.sessionID)
    }()

    monitor.ActiveConnections.Inc()
    monitor.TotalConnections.Inc()
    h.log.Infof("新会话: %s", h.sessionID)

    buffer := make([]byte, h.bufferSize)

    for {
        // 设置读取超时
        if d, ok := h.conn.(readDeadliner); ok && h.readTimeout > 0 {
            d.SetReadDeadline(time.Now().Add(h.readTimeout))
        }

        n, err := h.conn.Read(buffer)
        if n > 0 {
            // 记录接收字节数
            monitor.BytesReceived.Add(float64(n))
            h.feeder.Feed(buffer[:n])
        }

        if err != nil {
            var netErr net.Error
            if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
                h.log.Debugf("读取超时: %s", h.sessionID)
                continue
            }
            h.log.Debugf("会话断开: %s, 错误: %v", h.sessionID, err)
            return
        }

        if ctx.Err() != nil {
            return
        }
    }
}
