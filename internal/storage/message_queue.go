package storage

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/config"
    "instrument-emulator/pkg/protocol"
)

const batchSize = 64

// MessageQueue 将信标读数和回调消息发布到 Redis。
// Publish 不阻塞，发送在后台 goroutine 中批量完成。
type MessageQueue struct {
    client          *redis.Client
    channel         string
    callbackChannel string
    historySize     int64
    instrumentID    string
    log             *logrus.Logger

    records   chan *protocol.Record
    wg        sync.WaitGroup
    closeOnce sync.Once
}

func NewMessageQueue(cfg config.RedisConfig, instrumentID string, log *logrus.Logger) (*MessageQueue, error) {
    client := redis.NewClient(&redis.Options{
        Addr:     cfg.Addr,
        Password: cfg.Password,
        DB:       cfg.DB,
        PoolSize: cfg.PoolSize,
    })

    // 测试连接
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        client.Close()
        return nil, fmt.Errorf("连接Redis失败: %w", err)
    }

    log.Info("Redis连接成功")

    bufferSize := cfg.BufferSize
    if bufferSize <= 0 {
        bufferSize = 1024
    }

    mq := &MessageQueue{
        client:          client,
        channel:         cfg.Channel,
        callbackChannel: cfg.CallbackChannel,
        historySize:     cfg.HistorySize,
        instrumentID:    instrumentID,
        log:             log,
        records:         make(chan *protocol.Record, bufferSize),
    }

    mq.wg.Add(1)
    go mq.run()

    return mq, nil
}

// Publish 入队待发布记录，缓冲区满时丢弃
func (mq *MessageQueue) Publish(rec *protocol.Record) {
    if rec.InstrumentID == "" {
        rec.InstrumentID = mq.instrumentID
    }
    if rec.Timestamp.IsZero() {
        rec.Timestamp = time.Now()
    }

    select {
    case mq.records <- rec:
    default:
        mq.log.Debugf("发布缓冲已满，丢弃记录: %s", rec.Kind)
    }
}

func (mq *MessageQueue) run() {
    defer mq.wg.Done()

    batch := make([]*protocol.Record, 0, batchSize)
    for rec := range mq.records {
        batch = append(batch[:0], rec)
    drain:
        for len(batch) < batchSize {
            select {
            case more, ok := <-mq.records:
                if !ok {
                    break drain
                }
                batch = append(batch, more)
            default:
                break drain
            }
        }

        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        if err := mq.PublishBatch(ctx, batch); err != nil {
            mq.log.Warnf("发布消息失败: %v", err)
        }
        cancel()
    }
}

// PublishBatch 批量发布，同时保存到 List（保留最近 historySize 条）
func (mq *MessageQueue) PublishBatch(ctx context.Context, dataList []*protocol.Record) error {
    pipe := mq.client.Pipeline()

    keys := make(map[string]struct{})
    for _, data := range dataList {
        jsonData, err := json.Marshal(data)
        if err != nil {
            mq.log.Errorf("序列化数据失败: %v", err)
            continue
        }

        pipe.Publish(ctx, mq.channelFor(data.Kind), jsonData)

        listKey := mq.listKey(data)
        pipe.LPush(ctx, listKey, jsonData)
        keys[listKey] = struct{}{}
    }

    if mq.historySize > 0 {
        for key := range keys {
            pipe.LTrim(ctx, key, 0, mq.historySize-1)
        }
    }

    _, err := pipe.Exec(ctx)
    return err
}

// Close 发送剩余记录后关闭连接
func (mq *MessageQueue) Close() error {
    var err error
    mq.closeOnce.Do(func() {
        close(mq.records)
        mq.wg.Wait()
        err = mq.client.Close()
    })
    return err
}

func (mq *MessageQueue) channelFor(kind string) string {
    if kind == protocol.RecordCallback && mq.callbackChannel != "" {
        return mq.callbackChannel
    }
    return mq.channel
}

func (mq *MessageQueue) listKey(data *protocol.Record) string {
    return fmt.Sprintf("instrument:%s:%s", data.InstrumentID, data.Kind)
}
