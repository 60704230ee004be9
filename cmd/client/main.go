package main

import (
    "flag"
    "fmt"
    "log"
    "net"
    "time"

    "instrument-emulator/internal/parser"
    "instrument-emulator/pkg/protocol"
)

func main() {
    host := flag.String("host", "localhost:8888", "模拟器地址")
    wait := flag.Duration("wait", 2*time.Second, "发送后接收时长")
    flag.Parse()

    conn, err := net.Dial("tcp", *host)
    if err != nil {
        log.Fatalf("连接失败: %v", err)
    }
    defer conn.Close()

    fmt.Printf("已连接到: %s\n", *host)

    // 每个参数作为一个命令帧发送
    for i, cmd := range flag.Args() {
        data := makeFrame(cmd)

        n, err := conn.Write(data)
        if err != nil {
            log.Printf("发送失败: %v", err)
            break
        }

        fmt.Printf("[%d] 发送 %d 字节: % x\n", i+1, n, data)
    }

    dec := protocol.NewDecoder()
    buf := make([]byte, 1024)
    deadline := time.Now().Add(*wait)
    _ = conn.SetReadDeadline(deadline)

    for time.Now().Before(deadline) {
        n, err := conn.Read(buf)
        if n > 0 {
            dec.Write(buf[:n])
            for {
                pkt, err := dec.Next()
                if err != nil {
                    fmt.Printf("  校验失败: %v\n", err)
                    continue
                }
                if pkt == nil {
                    break
                }
                printPacket(pkt)
            }
        }
        if err != nil {
            break
        }
    }

    fmt.Println("接收完成")
}

// makeFrame 用起止标记包装命令文本
func makeFrame(cmd string) []byte {
    frame := make([]byte, 0, len(cmd)+4)
    frame = append(frame, parser.StartMarker...)
    frame = append(frame, cmd...)
    frame = append(frame, parser.EndMarker...)
    return frame
}

func printPacket(pkt *protocol.Packet) {
    switch pkt.Kind {
    case protocol.KindValue:
        fmt.Printf("  数值: %d\n", pkt.Value)
    case protocol.KindControl:
        fmt.Printf("  控制: %s\n", pkt.Text)
    case protocol.KindControlB:
        fmt.Printf("  控制B: %s\n", pkt.Text)
    default:
        fmt.Printf("  未知类型 0x%02X: %d %q\n", pkt.Kind, pkt.Value, pkt.Text)
    }
}
