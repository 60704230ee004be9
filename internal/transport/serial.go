package transport

import (
    "fmt"

    "go.bug.st/serial"
    "instrument-emulator/internal/config"
)

// OpenSerial 打开串口：8N1，RTS 拉低
func OpenSerial(cfg config.SerialConfig) (serial.Port, error) {
    mode := &serial.Mode{
        BaudRate: cfg.BaudRate,
        DataBits: cfg.DataBits,
        Parity:   serial.NoParity,
        StopBits: serial.OneStopBit,
    }

    port, err := serial.Open(cfg.Port, mode)
    if err != nil {
        if ports, lerr := serial.GetPortsList(); lerr == nil {
            return nil, fmt.Errorf("打开串口 %s 失败 (可用串口: %v): %w", cfg.Port, ports, err)
        }
        return nil, fmt.Errorf("打开串口 %s 失败: %w", cfg.Port, err)
    }

    if cfg.ReadTimeout > 0 {
        if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
            port.Close()
            return nil, fmt.Errorf("设置串口读超时失败: %w", err)
        }
    }
    if err := port.SetRTS(false); err != nil {
        port.Close()
        return nil, fmt.Errorf("设置RTS失败: %w", err)
    }

    return port, nil
}
