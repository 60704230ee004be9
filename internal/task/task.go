// Package task 提供可取消的周期任务句柄。
package task

import (
    "sync"
    "sync/atomic"
    "time"
)

// Task 周期任务句柄（running | cancelled）
type Task struct {
    name      string
    cancelled atomic.Bool
    done      chan struct{}
    once      sync.Once
}

func New(name string) *Task {
    return &Task{
        name: name,
        done: make(chan struct{}),
    }
}

func (t *Task) Name() string {
    return t.name
}

// Cancel 取消任务，可重复调用，可在任意 goroutine 调用
func (t *Task) Cancel() {
    t.once.Do(func() {
        t.cancelled.Store(true)
        close(t.done)
    })
}

func (t *Task) Cancelled() bool {
    return t.cancelled.Load()
}

// Done 任务取消后关闭
func (t *Task) Done() <-chan struct{} {
    return t.done
}

// Scheduler 创建周期任务。interval 每轮重新读取，支持运行中修改周期。
// body 不会在 Cancel 返回后再执行。
type Scheduler interface {
    Every(name string, interval func() time.Duration, body func()) *Task
}
