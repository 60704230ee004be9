package protocol

import (
    "bytes"
    "encoding/binary"
    "errors"
    "math"

    "github.com/sigurn/crc16"
)

var (
    ErrShortPacket = errors.New("protocol: short packet")
    ErrChecksum    = errors.New("protocol: checksum mismatch")
    ErrNoHeader    = errors.New("protocol: no header")
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

var defaultHeader = []byte{byte(ProtocolMagic >> 8), byte(ProtocolMagic & 0xFF)}

// Checksum CRC-16/MODBUS
func Checksum(data []byte) uint16 {
    return crc16.Checksum(data, crcTable)
}

// Encoder 将 header/数值/文本编码为线上字节
type Encoder struct{}

func NewEncoder() *Encoder {
    return &Encoder{}
}

// Encode value 为 -1 时是纯文本控制包，-2 为控制包变体 B；header 为 nil 时使用默认协议头
func (e *Encoder) Encode(header []byte, value int64, text string) []byte {
    if len(header) != HeaderSize {
        header = defaultHeader
    }
    if len(text) > MaxTextLen {
        text = text[:MaxTextLen]
    }

    kind := uint8(KindValue)
    switch value {
    case ValueControl:
        kind = KindControl
    case ValueControlB:
        kind = KindControlB
    }
    if value > math.MaxInt32 {
        value = math.MaxInt32
    } else if value < math.MinInt32 {
        value = math.MinInt32
    }

    packet := make([]byte, 0, PacketOverhead+len(text))
    packet = append(packet, header...)
    packet = append(packet, kind)
    packet = binary.BigEndian.AppendUint32(packet, uint32(int32(value)))
    packet = binary.BigEndian.AppendUint16(packet, uint16(len(text)))
    packet = append(packet, text...)
    packet = binary.BigEndian.AppendUint16(packet, Checksum(packet))
    return packet
}

// Decode 从 data 中解析第一个完整的数据包，返回已消费的字节数。
// ErrShortPacket 表示需要更多数据，此时消费的只是协议头之前的垃圾字节。
func Decode(data []byte) (*Packet, int, error) {
    idx := bytes.Index(data, defaultHeader)
    if idx < 0 {
        keep := 0
        if len(data) > 0 && data[len(data)-1] == defaultHeader[0] {
            keep = 1
        }
        return nil, len(data) - keep, ErrNoHeader
    }

    frame := data[idx:]
    if len(frame) < PacketOverhead {
        return nil, idx, ErrShortPacket
    }

    textLen := int(binary.BigEndian.Uint16(frame[7:9]))
    total := PacketOverhead + textLen
    if len(frame) < total {
        return nil, idx, ErrShortPacket
    }

    want := binary.BigEndian.Uint16(frame[total-2 : total])
    if Checksum(frame[:total-2]) != want {
        return nil, idx + 1, ErrChecksum
    }

    return &Packet{
        Header: binary.BigEndian.Uint16(frame[0:2]),
        Kind:   frame[2],
        Value:  int32(binary.BigEndian.Uint32(frame[3:7])),
        Text:   string(frame[9 : 9+textLen]),
    }, idx + total, nil
}

// Decoder 流式解码
type Decoder struct {
    buf []byte
}

func NewDecoder() *Decoder {
    return &Decoder{}
}

func (d *Decoder) Write(p []byte) (int, error) {
    d.buf = append(d.buf, p...)
    return len(p), nil
}

// Next 返回下一个完整包；数据不足时返回 nil, nil，校验失败的包被跳过并返回 ErrChecksum
func (d *Decoder) Next() (*Packet, error) {
    pkt, n, err := Decode(d.buf)
    d.buf = d.buf[n:]
    switch {
    case err == nil:
        return pkt, nil
    case errors.Is(err, ErrShortPacket), errors.Is(err, ErrNoHeader):
        return nil, nil
    default:
        return nil, err
    }
}
