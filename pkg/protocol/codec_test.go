package protocol

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
    t.Parallel()

    pkt := NewEncoder().Encode(nil, 64000, "")
    require.Len(t, pkt, PacketOverhead)
    assert.Equal(t, []byte{0xAA, 0x55, KindValue, 0x00, 0x00, 0xFA, 0x00, 0x00, 0x00}, pkt[:9])
    assert.Equal(t, Checksum(pkt[:9]), uint16(pkt[9])<<8|uint16(pkt[10]))
}

func TestEncodeSentinels(t *testing.T) {
    t.Parallel()

    enc := NewEncoder()

    p, _, err := Decode(enc.Encode(nil, ValueControl, AckText("STARTBC")))
    require.NoError(t, err)
    assert.EqualValues(t, KindControl, p.Kind)
    assert.EqualValues(t, -1, p.Value)
    assert.Equal(t, "AUTOACKCALLBACK=STARTBC", p.Text)

    p, _, err = Decode(enc.Encode(nil, ValueControlB, "a:b"))
    require.NoError(t, err)
    assert.EqualValues(t, KindControlB, p.Kind)
    assert.Equal(t, "a:b", p.Text)
}

func TestEncodeCustomHeader(t *testing.T) {
    t.Parallel()

    pkt := NewEncoder().Encode([]byte{0x12, 0x34}, 1, "")
    assert.Equal(t, []byte{0x12, 0x34}, pkt[:2])

    // 长度不对的 header 回退为默认值
    pkt = NewEncoder().Encode([]byte{0x01}, 1, "")
    assert.Equal(t, []byte{0xAA, 0x55}, pkt[:2])
}

func TestDecodeChecksumMismatch(t *testing.T) {
    t.Parallel()

    pkt := NewEncoder().Encode(nil, 123, "x")
    pkt[4] ^= 0xFF
    _, n, err := Decode(pkt)
    assert.ErrorIs(t, err, ErrChecksum)
    assert.Equal(t, 1, n)
}

func TestDecoderStream(t *testing.T) {
    t.Parallel()

    enc := NewEncoder()
    stream := []byte{0x01, 0x02}
    stream = append(stream, enc.Encode(nil, ValueControl, "RESETMEAS")...)
    stream = append(stream, enc.Encode(nil, 20000, "")...)
    stream = append(stream, enc.Encode(nil, ValueControl, "ENDMEAS")...)

    d := NewDecoder()
    var got []*Packet
    for i := 0; i < len(stream); i += 3 {
        end := i + 3
        if end > len(stream) {
            end = len(stream)
        }
        _, _ = d.Write(stream[i:end])
        for {
            p, err := d.Next()
            require.NoError(t, err)
            if p == nil {
                break
            }
            got = append(got, p)
        }
    }

    require.Len(t, got, 3)
    assert.Equal(t, "RESETMEAS", got[0].Text)
    assert.EqualValues(t, 20000, got[1].Value)
    assert.EqualValues(t, KindValue, got[1].Kind)
    assert.Equal(t, "ENDMEAS", got[2].Text)
}

func TestDecodeNeedsMoreData(t *testing.T) {
    t.Parallel()

    pkt := NewEncoder().Encode(nil, 5, "hello")
    _, n, err := Decode(pkt[:len(pkt)-1])
    assert.ErrorIs(t, err, ErrShortPacket)
    assert.Equal(t, 0, n)

    _, n, err = Decode([]byte{0x00, 0x00, 0xAA})
    assert.ErrorIs(t, err, ErrNoHeader)
    assert.Equal(t, 2, n, "possible header prefix is kept")
}
