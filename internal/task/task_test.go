package task

import (
    "sync"
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestCancelIdempotent(t *testing.T) {
    t.Parallel()

    tk := New("beacon")
    assert.Equal(t, "beacon", tk.Name())
    assert.False(t, tk.Cancelled())

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            tk.Cancel()
        }()
    }
    wg.Wait()

    assert.True(t, tk.Cancelled())
    select {
    case <-tk.Done():
    default:
        t.Fatal("Done channel should be closed after Cancel")
    }
}
