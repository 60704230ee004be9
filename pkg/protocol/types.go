package protocol

import "time"

// Packet 出站数据包
type Packet struct {
    Header uint16
    Kind   uint8
    Value  int32
    Text   string
}

// Record 发布到消息队列的记录
type Record struct {
    InstrumentID string    `json:"instrument_id"`
    Timestamp    time.Time `json:"timestamp"`
    Kind         string    `json:"kind"`
    Value        int64     `json:"value"`
    Text         string    `json:"text,omitempty"`
}

// 协议常量
const (
    // 包类型
    KindValue    = 0x00
    KindControl  = 0x01
    KindControlB = 0x02

    // 数值字段中的哨兵
    ValueControl  = -1
    ValueControlB = -2

    // 协议头
    ProtocolMagic = 0xAA55
    HeaderSize    = 2

    // header + kind + value + textLen + crc
    PacketOverhead = HeaderSize + 1 + 4 + 2 + 2
    MaxTextLen     = 0xFFFF

    // 记录类型
    RecordBeacon   = "beacon"
    RecordCallback = "callback"
)

// AckText 自动应答文本
func AckText(verb string) string {
    return "AUTOACKCALLBACK=" + verb
}
