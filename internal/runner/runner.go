// Package runner 实现单线程协作式事件循环：
// 所有事件处理函数和周期任务体都在同一个 goroutine 中顺序执行。
package runner

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/event"
    "instrument-emulator/internal/monitor"
    "instrument-emulator/internal/task"
)

// HandlerFunc 事件处理函数
type HandlerFunc func(ev event.Event)

// Router 动词处理函数注册表
type Router interface {
    Handle(verb event.Verb, h HandlerFunc)
}

type Runner struct {
    log      *logrus.Logger
    handlers map[event.Verb]HandlerFunc

    mu     sync.Mutex
    queue  []func()
    notify chan struct{}

    ctx    context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup
}

func New(log *logrus.Logger) *Runner {
    ctx, cancel := context.WithCancel(context.Background())
    return &Runner{
        log:      log,
        handlers: make(map[event.Verb]HandlerFunc),
        notify:   make(chan struct{}, 1),
        ctx:      ctx,
        cancel:   cancel,
    }
}

// Handle 注册动词处理函数，重复注册会覆盖
func (r *Runner) Handle(verb event.Verb, h HandlerFunc) {
    r.handlers[verb] = h
}

// RegisterEvent 实现 event.Sink，邮箱无界，不会阻塞调用方
func (r *Runner) RegisterEvent(source, verb, payload string) {
    v, _ := event.ParseVerb(verb)
    ev := event.Event{
        Source:  source,
        Name:    verb,
        Verb:    v,
        Payload: payload,
    }
    r.Post(func() { r.dispatch(ev) })
}

// Post 将函数投递到事件循环执行
func (r *Runner) Post(fn func()) {
    r.mu.Lock()
    r.queue = append(r.queue, fn)
    r.mu.Unlock()

    select {
    case r.notify <- struct{}{}:
    default:
    }
}

// Every 实现 task.Scheduler。计时在独立 goroutine 中进行，
// 任务体投递到事件循环执行，执行完毕后才开始下一轮计时。
func (r *Runner) Every(name string, interval func() time.Duration, body func()) *task.Task {
    t := task.New(name)

    r.wg.Add(1)
    go func() {
        defer r.wg.Done()

        for {
            timer := time.NewTimer(interval())
            select {
            case <-r.ctx.Done():
                timer.Stop()
                return
            case <-t.Done():
                timer.Stop()
                return
            case <-timer.C:
            }

            finished := make(chan struct{})
            r.Post(func() {
                defer close(finished)
                if t.Cancelled() {
                    return
                }
                body()
            })

            select {
            case <-finished:
            case <-t.Done():
                return
            case <-r.ctx.Done():
                return
            }
        }
    }()

    r.log.Debugf("周期任务已创建: %s", name)
    return t
}

// Run 运行事件循环，直到 ctx 取消或 Close 被调用
func (r *Runner) Run(ctx context.Context) error {
    defer r.Close()

    r.log.Info("事件循环启动")
    for {
        r.Drain()

        select {
        case <-ctx.Done():
            r.log.Info("事件循环退出")
            return ctx.Err()
        case <-r.ctx.Done():
            r.log.Info("事件循环退出")
            return nil
        case <-r.notify:
        }
    }
}

// Drain 在当前 goroutine 执行邮箱中的全部任务（包括执行期间新投递的），返回执行数量
func (r *Runner) Drain() int {
    n := 0
    for {
        r.mu.Lock()
        batch := r.queue
        r.queue = nil
        r.mu.Unlock()

        if len(batch) == 0 {
            monitor.MailboxDepth.Set(0)
            return n
        }
        monitor.MailboxDepth.Set(float64(len(batch)))

        for _, fn := range batch {
            r.safeCall(fn)
            n++
        }
    }
}

// Pending 邮箱中等待执行的数量
func (r *Runner) Pending() int {
    r.mu.Lock()
    defer r.mu.Unlock()
    return len(r.queue)
}

// Close 停止所有周期任务的计时 goroutine
func (r *Runner) Close() {
    r.cancel()
    r.wg.Wait()
}

func (r *Runner) dispatch(ev event.Event) {
    h, ok := r.handlers[ev.Verb]
    if !ok {
        monitor.UnknownCommands.Inc()
        r.log.WithFields(logrus.Fields{
            "source": ev.Source,
            "verb":   ev.Name,
        }).Warn("未知命令，忽略")
        return
    }

    monitor.EventsDispatched.WithLabelValues(ev.Verb.String()).Inc()
    r.log.WithFields(logrus.Fields{
        "source":  ev.Source,
        "verb":    ev.Name,
        "payload": ev.Payload,
    }).Debug("分发事件")

    h(ev)
}

func (r *Runner) safeCall(fn func()) {
    defer func() {
        if rec := recover(); rec != nil {
            monitor.HandlerErrors.Inc()
            r.log.Errorf("事件处理异常: %v", fmt.Sprint(rec))
        }
    }()
    fn()
}
