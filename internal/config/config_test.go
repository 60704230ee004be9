package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "config.yaml")
    require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
    return path
}

func TestDefaultConfigIsValid(t *testing.T) {
    t.Parallel()
    require.NoError(t, GetDefaultConfig().Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
    t.Parallel()

    path := writeConfig(t, `
server:
  port: 7000
instrument:
  tick_interval: 50ms
  dump_gain: 0.9
beacon:
  interval: 1s
redis:
  enabled: true
  channel: test
`)

    cfg, err := LoadConfig(path)
    require.NoError(t, err)

    assert.Equal(t, 7000, cfg.Server.Port)
    assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset fields keep defaults")
    assert.Equal(t, 50*time.Millisecond, cfg.Instrument.TickInterval)
    assert.InDelta(t, 0.9, cfg.Instrument.DumpGain, 1e-9)
    assert.Equal(t, 10, cfg.Instrument.CaptureTimeout)
    assert.Equal(t, time.Second, cfg.Beacon.Interval)
    assert.True(t, cfg.Redis.Enabled)
    assert.Equal(t, "test", cfg.Redis.Channel)
}

func TestLoadConfigErrors(t *testing.T) {
    t.Parallel()

    _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
    assert.Error(t, err)

    _, err = LoadConfig(writeConfig(t, "server: [\n"))
    assert.Error(t, err)

    _, err = LoadConfig(writeConfig(t, "transport:\n  mode: serial\n"))
    assert.ErrorContains(t, err, "serial.port")

    _, err = LoadConfig(writeConfig(t, "instrument:\n  dump_gain: 1.5\n"))
    assert.ErrorContains(t, err, "dump_gain")

    _, err = LoadConfig(writeConfig(t, "transport:\n  mode: udp\n"))
    assert.Error(t, err)
}

func TestValidateInstrumentRanges(t *testing.T) {
    t.Parallel()

    cases := []struct {
        name  string
        body  string
        field string
    }{
        {"nan base", "instrument:\n  base: .nan\n", "instrument.base"},
        {"base at ceiling", "instrument:\n  base: 1000000\n", "instrument.base"},
        {"negative base", "instrument:\n  base: -1\n", "instrument.base"},
        {"inf increment", "instrument:\n  increment: .inf\n", "instrument.increment"},
        {"zero increment", "instrument:\n  increment: 0\n", "instrument.increment"},
        {"nan gain", "instrument:\n  dump_gain: .nan\n", "instrument.dump_gain"},
        {"threshold above ceiling", "instrument:\n  dump_threshold: 2000000\n", "instrument.dump_threshold"},
        {"nan noise", "instrument:\n  noise_ratio: .nan\n", "instrument.noise_ratio"},
        {"noise above 100", "instrument:\n  noise_ratio: 150\n", "instrument.noise_ratio"},
        {"negative epsilon", "instrument:\n  settle_epsilon: -0.1\n", "instrument.settle_epsilon"},
        {"nanosecond beacon", "beacon:\n  interval: 1ns\n", "beacon.interval"},
        {"beacon too slow", "beacon:\n  interval: 2h\n", "beacon.interval"},
    }

    for _, tc := range cases {
        tc := tc
        t.Run(tc.name, func(t *testing.T) {
            t.Parallel()
            _, err := LoadConfig(writeConfig(t, tc.body))
            assert.ErrorContains(t, err, tc.field)
        })
    }
}
