package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/drpcorg/steit/utils"
)

const readQueueLen = 1 << 10

// Peer runs the read and write loops of one connection. Incoming bytes are
// cut into frames and drained into inout; frames fed by inout are written
// out.
type Peer struct {
	conn         net.Conn
	inout        FeedDrainCloserTraced
	writeTimeout time.Duration

	closed         atomic.Bool
	incoming       atomic.Int32
	writeBatchSize utils.AvgVal
}

func (p *Peer) GetTraceId() string {
	return p.inout.GetTraceId()
}

// WriteBatchSize is the mean number of bytes per socket write.
func (p *Peer) WriteBatchSize() float64 {
	return p.writeBatchSize.Val()
}

// Incoming is the number of frames read but not drained yet.
func (p *Peer) Incoming() int32 {
	return p.incoming.Load()
}

func (p *Peer) keepRead(ctx context.Context) error {
	reading := make(chan codec.Records, readQueueLen)
	drained := make(chan error, 1)
	go func() {
		defer close(drained)
		for recs := range reading {
			if err := p.inout.Drain(ctx, recs); err != nil {
				drained <- err
				// unblocks the pending Read
				_ = p.conn.Close()
				return
			}
			p.incoming.Add(-int32(len(recs)))
		}
	}()

	err := p.readLoop(ctx, reading, drained)
	close(reading)
	if derr := <-drained; derr != nil {
		err = derr
	}
	p.incoming.Store(0)
	return err
}

func (p *Peer) readLoop(ctx context.Context, reading chan<- codec.Records, drained <-chan error) error {
	var buf bytes.Buffer
	for !p.closed.Load() {
		buf.Grow(typicalMTU)
		idle := buf.AvailableBuffer()[:buf.Available()]
		n, err := p.conn.Read(idle)
		buf.Write(idle[:n])
		if err != nil {
			return err
		}

		recs, err := codec.Split(&buf)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			continue
		}
		p.incoming.Add(int32(len(recs)))
		select {
		case <-ctx.Done():
			return nil
		case err := <-drained:
			return err
		case reading <- recs:
		}
	}
	return nil
}

func (p *Peer) keepWrite(ctx context.Context) error {
	for !p.closed.Load() {
		recs, err := p.inout.Feed(ctx)
		if err != nil {
			return err
		}
		if p.writeTimeout > 0 {
			if err = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
				return err
			}
		}
		b := net.Buffers(recs)
		n, err := b.WriteTo(p.conn)
		if err != nil {
			return err
		}
		p.writeBatchSize.Add(float64(n))
	}
	return nil
}

// Keep runs both loops until either ends, then closes the connection and
// waits for the other one.
func (p *Peer) Keep(ctx context.Context) (rerr, werr, cerr error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
		case werr = <-writeErrCh:
		}
		if i == 0 {
			p.closed.Store(true)
			cancel()
			cerr = p.conn.Close()
		}
	}
	if quiet(rerr) {
		rerr = nil
	}
	if quiet(werr) {
		werr = nil
	}
	if errors.Is(cerr, net.ErrClosed) {
		cerr = nil
	}
	return
}

// quiet errors are the normal ways for a connection to end.
func quiet(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, steit_errors.ErrClosed)
}

func (p *Peer) Close() {
	p.closed.Store(true)
	_ = p.conn.Close()
}
