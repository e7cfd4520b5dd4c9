// Package transport provides byte-link plumbing for the framed-serial
// protocol adapters.
package transport

import (
	"io"
	"sync"
)

// Pipe is one endpoint of an in-memory reliable byte link. It implements
// io.ReadWriteCloser and is used to connect a serial device adapter to a
// serial service adapter in tests and the loopback tool.
type Pipe struct {
	tx     chan []byte
	rx     chan []byte
	rbuf   []byte
	closeOnce sync.Once
}

// NewPipe creates a connected pair of link endpoints. Writes on one side
// become reads on the other.
func NewPipe() (*Pipe, *Pipe) {
	a := make(chan []byte, 4)
	b := make(chan []byte, 4)
	return &Pipe{tx: a, rx: b}, &Pipe{tx: b, rx: a}
}

// Read implements io.Reader. It blocks until the peer writes or closes.
func (p *Pipe) Read(buf []byte) (int, error) {
	if len(p.rbuf) == 0 {
		m, ok := <-p.rx
		if !ok {
			return 0, io.EOF
		}
		p.rbuf = m
	}
	n := copy(buf, p.rbuf)
	p.rbuf = p.rbuf[n:]
	return n, nil
}

// Write implements io.Writer. The data is copied, so the caller may reuse
// buf immediately.
func (p *Pipe) Write(buf []byte) (int, error) {
	m := make([]byte, len(buf))
	copy(m, buf)
	p.tx <- m
	return len(buf), nil
}

// Close signals end of stream to the peer. Pending reads on this side still
// drain data written before the peer closed.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.tx) })
	return nil
}
