package client

import (
	"io"
	"sync/atomic"
)

// ProgressFunc receives the bytes transferred so far and the expected total.
// total is -1 when unknown.
type ProgressFunc func(completed, total int64)

type progressReader struct {
	r     io.Reader
	total int64
	read  atomic.Int64
	fn    ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(p.read.Add(int64(n)), p.total)
	}
	return n, err
}
