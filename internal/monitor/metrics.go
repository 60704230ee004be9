package monitor

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "runtime"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"
)

var (
    // 连接指标
    ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "emulator_active_connections",
        Help: "当前活跃会话数",
    })

    TotalConnections = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_total_connections",
        Help: "总连接数",
    })

    RejectedConnections = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_rejected_connections_total",
        Help: "会话已占用时被拒绝的连接数",
    })

    BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_bytes_received_total",
        Help: "接收的字节总数",
    })

    BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_bytes_sent_total",
        Help: "发送的字节总数",
    })

    // 帧解析指标
    FramesParsed = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_frames_parsed_total",
        Help: "成功提取的命令帧数",
    })

    FrameTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_frame_timeouts_total",
        Help: "帧接收超时次数",
    })

    // 命令指标
    EventsDispatched = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "emulator_events_dispatched_total",
            Help: "分发的事件数",
        },
        []string{"verb"},
    )

    UnknownCommands = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_unknown_commands_total",
        Help: "未知命令数",
    })

    ParseErrors = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "emulator_parse_errors_total",
            Help: "参数解析错误数",
        },
        []string{"field"},
    )

    HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "emulator_handler_errors_total",
        Help: "事件处理异常数",
    })

    MailboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "emulator_mailbox_depth",
        Help: "事件循环邮箱深度",
    })

    // 信标指标
    BeaconsSent = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "emulator_beacons_sent_total",
            Help: "发送的信标包数",
        },
        []string{"kind"},
    )

    OutboundQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "emulator_outbound_queue_depth",
        Help: "信标待发送队列长度",
    })

    // 传感器指标
    SensorValue = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "emulator_sensor_value",
        Help: "当前模拟传感器读数",
    })

    // Goroutine指标
    GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "emulator_goroutines",
        Help: "当前Goroutine数量",
    })

    // 内存指标
    MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "emulator_memory_usage_bytes",
        Help: "内存使用量",
    })
)

var registerOnce sync.Once

type Monitor struct {
    log    *logrus.Logger
    server *http.Server
}

func NewMonitor(log *logrus.Logger) *Monitor {
    // 注册指标
    registerOnce.Do(func() {
        prometheus.MustRegister(
            ActiveConnections,
            TotalConnections,
            RejectedConnections,
            BytesReceived,
            BytesSent,
            FramesParsed,
            FrameTimeouts,
            EventsDispatched,
            UnknownCommands,
            ParseErrors,
            HandlerErrors,
            MailboxDepth,
            BeaconsSent,
            OutboundQueueDepth,
            SensorValue,
            GoroutineCount,
            MemoryUsage,
        )
    })

    return &Monitor{log: log}
}

// Handler 返回 /metrics 与 /health 路由
func (m *Monitor) Handler() http.Handler {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())

    // 健康检查端点
    mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        w.Write([]byte("OK"))
    })
    return mux
}

// StartMetricsServer 启动Metrics HTTP服务器
func (m *Monitor) StartMetricsServer(port int) {
    addr := fmt.Sprintf(":%d", port)
    m.server = &http.Server{
        Addr:              addr,
        Handler:           m.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
    }
    m.log.Infof("Metrics服务器启动: %s", addr)

    go func() {
        if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            m.log.Errorf("Metrics服务器错误: %v", err)
        }
    }()
}

// StartRuntimeMonitor 启动运行时监控
func (m *Monitor) StartRuntimeMonitor(ctx context.Context) {
    ticker := time.NewTicker(10 * time.Second)

    go func() {
        defer ticker.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case <-ticker.C:
            }

            // 更新Goroutine数量
            GoroutineCount.Set(float64(runtime.NumGoroutine()))

            // 更新内存使用
            var memStats runtime.MemStats
            runtime.ReadMemStats(&memStats)
            MemoryUsage.Set(float64(memStats.Alloc))

            m.log.Debugf("Goroutines: %d, 内存: %.2f MB",
                runtime.NumGoroutine(),
                float64(memStats.Alloc)/1024/1024,
            )
        }
    }()
}

// Close 关闭Metrics服务器
func (m *Monitor) Close(ctx context.Context) error {
    if m.server == nil {
        return nil
    }
    return m.server.Shutdown(ctx)
}
