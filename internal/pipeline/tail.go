package pipeline

import "bytes"

const maxStderrBytes = 8 * 1024

// TailBuffer is an io.Writer that keeps only the last Limit bytes written.
type TailBuffer struct {
	buf   bytes.Buffer
	Limit int
}

func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{Limit: limit}
}

func (tb *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	tb.buf.Write(p)
	if tb.Limit > 0 && tb.buf.Len() > tb.Limit {
		b := tb.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-tb.Limit:]...)
		tb.buf.Reset()
		tb.buf.Write(tail)
	}
	return n, nil
}

func (tb *TailBuffer) String() string {
	return tb.buf.String()
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
