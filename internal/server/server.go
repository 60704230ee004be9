package server

import (
    "context"
    "fmt"
    "math/rand"
    "net"
    "os/signal"
    "sync"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/beacon"
    "instrument-emulator/internal/config"
    "instrument-emulator/internal/event"
    "instrument-emulator/internal/handler"
    "instrument-emulator/internal/instrument"
    "instrument-emulator/internal/monitor"
    "instrument-emulator/internal/runner"
    "instrument-emulator/internal/sensor"
    "instrument-emulator/internal/storage"
    "instrument-emulator/internal/transport"
    "instrument-emulator/pkg/protocol"
)

// Server 组装仪器模拟器：事件循环、仪器、信标、传输与旁路发布
type Server struct {
    config     *config.Config
    log        *logrus.Logger
    instanceID string

    runner     *runner.Runner
    instrument *instrument.Instrument
    beacon     *beacon.Scheduler
    link       *transport.Link
    storage    *storage.MessageQueue
    monitor    *monitor.Monitor

    limiter chan struct{}
    wg      sync.WaitGroup

    mu       sync.Mutex
    listener net.Listener
    ready    chan struct{}
}

func NewServer(cfg *config.Config, log *logrus.Logger) (*Server, error) {
    s := &Server{
        config:     cfg,
        log:        log,
        instanceID: uuid.NewString(),
        limiter:    make(chan struct{}, 1),
        ready:      make(chan struct{}),
    }

    seed := cfg.Instrument.Seed
    if seed == 0 {
        seed = time.Now().UnixNano()
    }
    sim := sensor.NewSimulator(sensor.Params{
        Base:          cfg.Instrument.Base,
        Increment:     cfg.Instrument.Increment,
        DumpGain:      cfg.Instrument.DumpGain,
        DumpThreshold: cfg.Instrument.DumpThreshold,
        NoiseRatio:    cfg.Instrument.NoiseRatio,
        SettleEpsilon: cfg.Instrument.SettleEpsilon,
    }, rand.New(rand.NewSource(seed)))

    s.runner = runner.New(log)
    s.link = transport.NewLink(cfg.Server.WriteTimeout)
    enc := protocol.NewEncoder()

    s.instrument = instrument.New(instrument.Options{
        TickInterval:   cfg.Instrument.TickInterval,
        CaptureTimeout: cfg.Instrument.CaptureTimeout,
    }, sim, s.runner, s.runner, log)

    s.beacon = beacon.NewScheduler(s.runner, enc, s.link, sim, log)
    if err := s.beacon.SetInterval(cfg.Beacon.Interval); err != nil {
        return nil, err
    }
    gate := beacon.NewGate(s.beacon, enc, s.link, sim, s.runner, log)

    s.instrument.Register(s.runner)
    gate.Register(s.runner)
    s.runner.Handle(event.VerbCallback, s.handleCallback)

    if cfg.Redis.Enabled {
        mq, err := storage.NewMessageQueue(cfg.Redis, s.instanceID, log)
        if err != nil {
            return nil, err
        }
        s.storage = mq
        s.beacon.SetPublisher(mq)
    }

    // 创建监控
    s.monitor = monitor.NewMonitor(log)

    return s, nil
}

// Start 运行直到收到 SIGINT/SIGTERM
func (s *Server) Start() error {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    return s.Run(ctx)
}

// Run 运行直到 ctx 取消
func (s *Server) Run(ctx context.Context) error {
    ctx, cancel := context.WithCancel(ctx)
    defer cancel()

    // 启动监控
    if s.config.Monitor.Enabled {
        s.monitor.StartMetricsServer(s.config.Monitor.MetricsPort)
        s.monitor.StartRuntimeMonitor(ctx)
    }

    runnerDone := make(chan error, 1)
    go func() {
        runnerDone <- s.runner.Run(ctx)
    }()

    if s.config.Instrument.AutoStart {
        s.runner.RegisterEvent(event.SourceTransport, event.VerbRestartInstrument.String(), "")
    }

    s.log.Infof("仪器实例: %s, 传输模式: %s", s.instanceID, s.config.Transport.Mode)

    var err error
    switch s.config.Transport.Mode {
    case "serial":
        err = s.serveSerial(ctx)
    default:
        err = s.serveTCP(ctx)
    }

    cancel()
    <-runnerDone
    s.wg.Wait()
    s.shutdown()

    return err
}

// Ready 监听建立后关闭
func (s *Server) Ready() <-chan struct{} {
    return s.ready
}

// Addr TCP 模式下的监听地址
func (s *Server) Addr() net.Addr {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.listener == nil {
        return nil
    }
    return s.listener.Addr()
}

func (s *Server) Instrument() *instrument.Instrument {
    return s.instrument
}

func (s *Server) Beacon() *beacon.Scheduler {
    return s.beacon
}

func (s *Server) serveTCP(ctx context.Context) error {
    // 监听TCP端口
    addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

    lc := net.ListenConfig{
        KeepAlive: s.config.Server.KeepAlive,
    }

    listener, err := lc.Listen(ctx, "tcp", addr)
    if err != nil {
        return fmt.Errorf("监听失败: %w", err)
    }

    s.mu.Lock()
    s.listener = listener
    s.mu.Unlock()
    close(s.ready)

    s.log.Infof("服务器启动成功: %s", listener.Addr())

    go func() {
        <-ctx.Done()
        listener.Close()
    }()

    // 接受连接
    for {
        conn, err := listener.Accept()
        if err != nil {
            if ctx.Err() != nil {
                s.log.Info("停止接受新连接")
                return nil
            }
            s.log.Errorf("接受连接错误: %v", err)
            continue
        }

        // 只允许一个会话
        select {
        case s.limiter <- struct{}{}:
            s.wg.Add(1)
            go s.handleConnection(ctx, conn)
        default:
            monitor.RejectedConnections.Inc()
            s.log.Warnf("已有会话 %s，拒绝连接: %s", s.link.Peer(), conn.RemoteAddr())
            conn.Close()
        }
    }
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
    defer func() {
        <-s.limiter
        s.wg.Done()
    }()

    h := handler.NewConnectionHandler(
        conn,
        conn.RemoteAddr().String(),
        s.instrument,
        s.link,
        s.log,
        s.config.Server.BufferSize,
        s.config.Server.ReadTimeout,
    )

    h.Handle(ctx)
}

func (s *Server) serveSerial(ctx context.Context) error {
    port, err := transport.OpenSerial(s.config.Serial)
    if err != nil {
        return err
    }
    close(s.ready)
    s.log.Infof("串口已打开: %s (%d baud)", s.config.Serial.Port, s.config.Serial.BaudRate)

    h := handler.NewConnectionHandler(
        port,
        s.config.Serial.Port,
        s.instrument,
        s.link,
        s.log,
        s.config.Server.BufferSize,
        0,
    )
    h.Handle(ctx)

    if ctx.Err() == nil {
        return fmt.Errorf("串口 %s 已断开", s.config.Serial.Port)
    }
    return nil
}

// handleCallback 人类可读的反馈：记录日志并发布
func (s *Server) handleCallback(ev event.Event) {
    s.log.WithField("source", ev.Source).Info(ev.Payload)

    if s.storage != nil {
        s.storage.Publish(&protocol.Record{
            Kind: protocol.RecordCallback,
            Text: ev.Payload,
        })
    }
}

func (s *Server) shutdown() {
    // 关闭存储连接
    if s.storage != nil {
        if err := s.storage.Close(); err != nil {
            s.log.Errorf("关闭存储连接失败: %v", err)
        }
    }

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := s.monitor.Close(ctx); err != nil {
        s.log.Errorf("关闭Metrics服务器失败: %v", err)
    }

    s.log.Info("服务器已关闭")
}
