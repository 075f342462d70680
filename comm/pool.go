package comm

import (
	"io"
	"sync"
)

// CreationFunc returns a new "connection" to something; a closure should be
// used to encapsulate the address and options needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool holds one or more connections to a device, created lazily and reused
// across commands.  It is concurrent safe.  Pools must be created with
// NewPool.
type Pool struct {
	maker CreationFunc
	conns chan io.ReadWriteCloser
	made  int
	mu    sync.Mutex
}

// NewPool returns a pool holding up to size connections made by maker.
func NewPool(size int, maker CreationFunc) *Pool {
	return &Pool{
		maker: maker,
		conns: make(chan io.ReadWriteCloser, size),
	}
}

// Get retrieves a connection from the pool, dialing a new one if none is
// idle and the pool is not yet at capacity.  Blocks when all connections
// are leased.  A connection obtained from Get must be given back with
// either Put or Destroy.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if len(p.conns) == 0 && p.made < cap(p.conns) {
		c, err := p.maker()
		if err == nil {
			p.made++
		}
		p.mu.Unlock()
		return c, err
	}
	p.mu.Unlock()
	return <-p.conns, nil
}

// Put returns a healthy connection to the pool for reuse.
func (p *Pool) Put(rw io.ReadWriter) {
	p.conns <- rw.(io.ReadWriteCloser)
}

// Destroy closes a connection and removes it from the pool's accounting.
// Use it instead of Put when the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rw.(io.ReadWriteCloser).Close()
	p.mu.Lock()
	p.made--
	p.mu.Unlock()
}

// ReturnWithError puts rw back if err is nil and destroys it otherwise.
// Intended for use in a defer alongside Get.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Close drains and closes every idle connection.  Leased connections are the
// holders' problem.
func (p *Pool) Close() error {
	var err error
	for {
		select {
		case c := <-p.conns:
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
			p.mu.Lock()
			p.made--
			p.mu.Unlock()
		default:
			return err
		}
	}
}
