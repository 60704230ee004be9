package event

import "fmt"

// 事件来源
const (
    SourceInstrument = "INSTRU"
    SourceSerial     = "SERIAL"
    SourceTransport  = "TRANSPORT"
)

// Verb 协议动词（封闭枚举）
type Verb int

const (
    VerbUnknown Verb = iota

    // INSTRU
    VerbSetDumpGain
    VerbSetDumpThreshold
    VerbSetValves
    VerbSetInstrument
    VerbBeaconLock
    VerbSensorsLock
    VerbRestartInstrument
    VerbStopInstrument

    // SERIAL
    VerbSerialInit
    VerbSerialConfig
    VerbSerialWrite
    VerbStartBeacon
    VerbStopBeacon
    VerbSendACK
    VerbSendBlock
    VerbBeaconTick
    VerbSendBeacon
    VerbSendTick

    // 人类可读的反馈
    VerbCallback
)

var verbNames = map[Verb]string{
    VerbSetDumpGain:       "SETSETRADUMPGAIN",
    VerbSetDumpThreshold:  "SETSETRADUMPTHRS",
    VerbSetValves:         "SETVALVES",
    VerbSetInstrument:     "SETINSTRU",
    VerbBeaconLock:        "BEACONLOCK",
    VerbSensorsLock:       "SENSORSLOCK",
    VerbRestartInstrument: "RESTARTINSTRU",
    VerbStopInstrument:    "STOPINSTRU",
    VerbSerialInit:        "SERIALINIT",
    VerbSerialConfig:      "SERIALCONFIG",
    VerbSerialWrite:       "SERIALWRITE",
    VerbStartBeacon:       "STARTBC",
    VerbStopBeacon:        "STOPBC",
    VerbSendACK:           "SENDACK",
    VerbSendBlock:         "SENDBLOCK",
    VerbBeaconTick:        "BCTICK",
    VerbSendBeacon:        "SENDBEACON",
    VerbSendTick:          "SENDTICK",
    VerbCallback:          "TCPCALLBACK",
}

var verbsByName = func() map[string]Verb {
    m := make(map[string]Verb, len(verbNames))
    for v, name := range verbNames {
        m[name] = v
    }
    return m
}()

// ParseVerb 将线上的动词名映射为 Verb，未知动词返回 false
func ParseVerb(name string) (Verb, bool) {
    v, ok := verbsByName[name]
    return v, ok
}

func (v Verb) String() string {
    if name, ok := verbNames[v]; ok {
        return name
    }
    return fmt.Sprintf("Verb(%d)", int(v))
}

// Event 投递给 runner 的事件
type Event struct {
    Source  string
    Name    string // 线上原始动词
    Verb    Verb
    Payload string
}

// Sink 事件接收方。RegisterEvent 不阻塞，同一来源的事件保持顺序。
type Sink interface {
    RegisterEvent(source, verb, payload string)
}
