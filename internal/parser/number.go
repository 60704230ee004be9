package parser

import (
    "fmt"
    "strconv"
    "strings"
)

// ParseError 配置命令中的数值参数格式错误
type ParseError struct {
    Field string
    Value string
    Err   error
}

func (e *ParseError) Error() string {
    return fmt.Sprintf("%s: invalid value %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
    return e.Err
}

// ParseFloat 解析浮点参数，失败时返回 *ParseError
func ParseFloat(field, s string) (float64, error) {
    v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil {
        return 0, &ParseError{Field: field, Value: s, Err: err}
    }
    return v, nil
}

// ParseInt 解析整数参数，失败时返回 *ParseError
func ParseInt(field, s string) (int64, error) {
    v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
    if err != nil {
        return 0, &ParseError{Field: field, Value: s, Err: err}
    }
    return v, nil
}
