package parser

import (
    "strings"

    "instrument-emulator/internal/event"
)

// Command 一个 VERB[=PAYLOAD] 令牌
type Command struct {
    Verb    string
    Payload string
}

// Args 以 ':' 分隔的参数列表，空负载返回 nil
func (c Command) Args() []string {
    if c.Payload == "" {
        return nil
    }
    return strings.Split(c.Payload, ":")
}

// Parse 按空格拆分命令串。含 '=' 的令牌在第一个 '=' 处拆分，空令牌被跳过。
func Parse(text string) []Command {
    var cmds []Command
    for _, tok := range strings.Split(text, " ") {
        if tok == "" {
            continue
        }
        verb, payload, _ := strings.Cut(tok, "=")
        cmds = append(cmds, Command{Verb: verb, Payload: payload})
    }
    return cmds
}

// Dispatcher 将命令串拆分后逐条投递给事件接收方
type Dispatcher struct {
    source string
    sink   event.Sink
}

func NewDispatcher(source string, sink event.Sink) *Dispatcher {
    return &Dispatcher{
        source: source,
        sink:   sink,
    }
}

// Dispatch 按从左到右的顺序投递，返回投递的命令
func (d *Dispatcher) Dispatch(text string) []Command {
    cmds := Parse(text)
    for _, c := range cmds {
        d.sink.RegisterEvent(d.source, c.Verb, c.Payload)
    }
    return cmds
}
