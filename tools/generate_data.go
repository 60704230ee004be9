package main

import (
    "encoding/hex"
    "flag"
    "fmt"
    "io"
    "math/rand"
    "strings"
    "time"

    "github.com/sirupsen/logrus"
    "instrument-emulator/internal/event"
    "instrument-emulator/internal/parser"
    "instrument-emulator/internal/sensor"
    "instrument-emulator/pkg/protocol"
)

func main() {
    command := flag.String("cmd", "BEACONLOCK=ON", "命令文本（帧模式）")
    packetMode := flag.Bool("packet", false, "生成出站数据包而不是命令帧")
    value := flag.Int64("value", 64000, "数据包数值 (-1=控制, -2=控制B)")
    text := flag.String("text", "", "数据包文本")
    random := flag.Bool("random", false, "生成随机数据")
    count := flag.Int("count", 1, "生成数量")
    flag.Parse()

    rng := rand.New(rand.NewSource(time.Now().UnixNano()))
    enc := protocol.NewEncoder()

    for i := 0; i < *count; i++ {
        var data []byte

        switch {
        case *packetMode && *random:
            data = enc.Encode(nil, rng.Int63n(sensor.Ceiling), "")
        case *packetMode:
            data = enc.Encode(nil, *value, *text)
        case *random:
            data = generateFrame(randomCommand(rng))
        default:
            data = generateFrame(*command)
        }

        fmt.Printf("数据 %d:\n", i+1)
        fmt.Printf("  十六进制: %s\n", hex.EncodeToString(data))
        fmt.Printf("  字节数组: % x\n", data)
        fmt.Printf("  C格式:    {%s}\n", toByteList(data))
        fmt.Printf("  Go格式:   []byte{%s}\n", toByteList(data))
        if *packetMode {
            displayPacket(data)
        } else {
            displayFrame(data)
        }
        fmt.Println()
    }
}

// generateFrame 生成命令帧，空格分隔的多条命令放在同一帧内
func generateFrame(cmd string) []byte {
    frame := make([]byte, 0, len(cmd)+4)
    frame = append(frame, parser.StartMarker...)
    frame = append(frame, cmd...)
    frame = append(frame, parser.EndMarker...)
    return frame
}

// randomCommand 随机挑选一个仪器命令
func randomCommand(rng *rand.Rand) string {
    switch rng.Intn(6) {
    case 0:
        return fmt.Sprintf("SETSETRADUMPGAIN=%.2f", 0.5+rng.Float64()*0.45)
    case 1:
        return fmt.Sprintf("SETINSTRU=%d:%d", 20000+rng.Intn(80000), 1+rng.Intn(10))
    case 2:
        return "SETINSTRU=" + []string{"UP", "DOWN"}[rng.Intn(2)]
    case 3:
        return "BEACONLOCK=" + []string{"ON", "OFF"}[rng.Intn(2)]
    case 4:
        return fmt.Sprintf("SENDBLOCK=%d", 1+rng.Intn(40))
    default:
        return event.VerbSensorsLock.String() + "=" + []string{"ON", "OFF"}[rng.Intn(2)]
    }
}

// displayFrame 用解析器还原帧内命令
func displayFrame(data []byte) {
    log := logrus.New()
    log.SetOutput(io.Discard)

    var frames []string
    p := parser.NewFrameParser(parser.DefaultCaptureTimeout, func(text string) {
        frames = append(frames, text)
    }, log)
    p.Feed(data)

    // 每帧需要两个周期：找到起始符，再找到结束符
    for i := 0; i < 4; i++ {
        p.Tick()
    }

    if len(frames) == 0 {
        fmt.Println("  错误: 未解析出完整帧")
        return
    }

    fmt.Printf("  解析结果:\n")
    for _, f := range frames {
        fmt.Printf("    帧文本:   %q\n", f)
        for _, c := range parser.Parse(f) {
            fmt.Printf("    命令:     %s 参数: %s\n", c.Verb, strings.Join(c.Args(), ","))
        }
    }
}

// displayPacket 解析并显示数据包内容
func displayPacket(data []byte) {
    pkt, _, err := protocol.Decode(data)
    if err != nil {
        fmt.Printf("  错误: %v\n", err)
        return
    }

    fmt.Printf("  解析结果:\n")
    fmt.Printf("    协议头:   0x%04X %s\n", pkt.Header, checkHeader(pkt.Header))
    fmt.Printf("    类型:     %d (%s)\n", pkt.Kind, kindName(pkt.Kind))
    fmt.Printf("    数值:     %d\n", pkt.Value)
    if pkt.Text != "" {
        fmt.Printf("    文本:     %s\n", pkt.Text)
    }
}

func checkHeader(header uint16) string {
    if header == protocol.ProtocolMagic {
        return "✓"
    }
    return "✗ 错误"
}

func kindName(k uint8) string {
    switch k {
    case protocol.KindValue:
        return "数值"
    case protocol.KindControl:
        return "控制"
    case protocol.KindControlB:
        return "控制B"
    default:
        return "未知"
    }
}

func toByteList(data []byte) string {
    parts := make([]string, len(data))
    for i, b := range data {
        parts[i] = fmt.Sprintf("0x%02X", b)
    }
    return strings.Join(parts, ", ")
}
