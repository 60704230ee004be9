package config

import (
    "fmt"
    "os"
    "time"

    "gopkg.in/yaml.v3"
)

type Config struct {
    Transport  TransportConfig  `yaml:"transport"`
    Server     ServerConfig     `yaml:"server"`
    Serial     SerialConfig     `yaml:"serial"`
    Instrument InstrumentConfig `yaml:"instrument"`
    Beacon     BeaconConfig     `yaml:"beacon"`
    Redis      RedisConfig      `yaml:"redis"`
    Log        LogConfig        `yaml:"log"`
    Monitor    MonitorConfig    `yaml:"monitor"`
}

type TransportConfig struct {
    Mode string `yaml:"mode"` // tcp | serial
}

type ServerConfig struct {
    Host         string        `yaml:"host"`
    Port         int           `yaml:"port"`
    ReadTimeout  time.Duration `yaml:"read_timeout"`
    WriteTimeout time.Duration `yaml:"write_timeout"`
    BufferSize   int           `yaml:"buffer_size"`
    KeepAlive    time.Duration `yaml:"keep_alive"`
}

type SerialConfig struct {
    Port        string        `yaml:"port"`
    BaudRate    int           `yaml:"baud_rate"`
    DataBits    int           `yaml:"data_bits"`
    ReadTimeout time.Duration `yaml:"read_timeout"`
}

type InstrumentConfig struct {
    AutoStart      bool          `yaml:"auto_start"`
    TickInterval   time.Duration `yaml:"tick_interval"`
    CaptureTimeout int           `yaml:"capture_timeout_ticks"`
    Base           float64       `yaml:"base"`
    Increment      float64       `yaml:"increment"`
    DumpGain       float64       `yaml:"dump_gain"`
    DumpThreshold  float64       `yaml:"dump_threshold"` // 0 表示按 base 推导
    NoiseRatio     float64       `yaml:"noise_ratio"`
    SettleEpsilon  float64       `yaml:"settle_epsilon"`
    Seed           int64         `yaml:"seed"` // 0 表示使用当前时间
}

type BeaconConfig struct {
    Interval time.Duration `yaml:"interval"`
}

type RedisConfig struct {
    Enabled         bool   `yaml:"enabled"`
    Addr            string `yaml:"addr"`
    Password        string `yaml:"password"`
    DB              int    `yaml:"db"`
    PoolSize        int    `yaml:"pool_size"`
    Channel         string `yaml:"channel"`
    CallbackChannel string `yaml:"callback_channel"`
    HistorySize     int64  `yaml:"history_size"`
    BufferSize      int    `yaml:"buffer_size"`
}

type LogConfig struct {
    Level    string `yaml:"level"`
    Format   string `yaml:"format"`
    Output   string `yaml:"output"`
    FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
    Enabled     bool `yaml:"enabled"`
    MetricsPort int  `yaml:"metrics_port"`
}

// LoadConfig 加载配置文件，未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, fmt.Errorf("读取配置文件失败: %w", err)
    }

    config := GetDefaultConfig()
    if err := yaml.Unmarshal(data, config); err != nil {
        return nil, fmt.Errorf("解析配置文件失败: %w", err)
    }

    if err := config.Validate(); err != nil {
        return nil, err
    }

    return config, nil
}

// fullScale 传感器满量程
const fullScale = 1_000_000

// Validate 校验配置
func (c *Config) Validate() error {
    switch c.Transport.Mode {
    case "tcp", "serial":
    default:
        return fmt.Errorf("未知传输模式: %q", c.Transport.Mode)
    }
    if c.Transport.Mode == "serial" && c.Serial.Port == "" {
        return fmt.Errorf("串口模式需要配置 serial.port")
    }
    if c.Instrument.TickInterval <= 0 {
        return fmt.Errorf("instrument.tick_interval 必须大于0")
    }
    if c.Instrument.CaptureTimeout <= 0 {
        return fmt.Errorf("instrument.capture_timeout_ticks 必须大于0")
    }
    // 否定形式的比较同时拒绝 NaN
    in := c.Instrument
    if !(in.DumpGain > 0 && in.DumpGain < 1) {
        return fmt.Errorf("instrument.dump_gain 必须在 (0,1) 之间: %v", in.DumpGain)
    }
    if !(in.Base >= 0 && in.Base < fullScale) {
        return fmt.Errorf("instrument.base 必须在 [0,%d) 之间: %v", fullScale, in.Base)
    }
    if !(in.Increment > 0 && in.Increment <= fullScale) {
        return fmt.Errorf("instrument.increment 必须在 (0,%d] 之间: %v", fullScale, in.Increment)
    }
    if !(in.DumpThreshold >= 0 && in.DumpThreshold <= fullScale) {
        return fmt.Errorf("instrument.dump_threshold 必须在 [0,%d] 之间: %v", fullScale, in.DumpThreshold)
    }
    if !(in.NoiseRatio >= 0 && in.NoiseRatio <= 100) {
        return fmt.Errorf("instrument.noise_ratio 必须在 [0,100] 之间: %v", in.NoiseRatio)
    }
    if !(in.SettleEpsilon >= 0 && in.SettleEpsilon < 1) {
        return fmt.Errorf("instrument.settle_epsilon 必须在 [0,1) 之间: %v", in.SettleEpsilon)
    }
    if c.Beacon.Interval < time.Millisecond || c.Beacon.Interval > time.Hour {
        return fmt.Errorf("beacon.interval 必须在 1ms 到 1h 之间: %v", c.Beacon.Interval)
    }
    return nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
    return &Config{
        Transport: TransportConfig{
            Mode: "tcp",
        },
        Server: ServerConfig{
            Host:         "0.0.0.0",
            Port:         8888,
            ReadTimeout:  30 * time.Second,
            WriteTimeout: 5 * time.Second,
            BufferSize:   4096,
            KeepAlive:    180 * time.Second,
        },
        Serial: SerialConfig{
            BaudRate:    115200,
            DataBits:    8,
            ReadTimeout: 100 * time.Millisecond,
        },
        Instrument: InstrumentConfig{
            AutoStart:      true,
            TickInterval:   100 * time.Millisecond,
            CaptureTimeout: 10,
            Base:           64000,
            Increment:      10000,
            DumpGain:       0.88,
            NoiseRatio:     0.1,
            SettleEpsilon:  0.0005,
        },
        Beacon: BeaconConfig{
            Interval: 250 * time.Millisecond,
        },
        Redis: RedisConfig{
            Enabled:         false,
            Addr:            "localhost:6379",
            Password:        "",
            DB:              0,
            PoolSize:        10,
            Channel:         "setra_beacon",
            CallbackChannel: "setra_callback",
            HistorySize:     1000,
            BufferSize:      1024,
        },
        Log: LogConfig{
            Level:  "info",
            Format: "text",
            Output: "stdout",
        },
        Monitor: MonitorConfig{
            Enabled:     true,
            MetricsPort: 9090,
        },
    }
}
