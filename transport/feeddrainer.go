package transport

import (
	"context"
	"io"

	"github.com/drpcorg/steit/codec"
)

// Feeder hands out batches of frames. The EOF convention follows io.Reader:
// either `recs, EOF` or `recs, nil` followed by `nil, EOF`.
type Feeder interface {
	Feed(ctx context.Context) (recs codec.Records, err error)
}

type FeedCloser interface {
	Feeder
	io.Closer
}

// Drainer takes batches of frames.
type Drainer interface {
	Drain(ctx context.Context, recs codec.Records) error
}

type DrainCloser interface {
	Drainer
	io.Closer
}

type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

type Traced interface {
	GetTraceId() string
}

// FeedDrainCloserTraced is what a connection talks to: Feed supplies the
// outgoing frames, Drain consumes the incoming ones.
type FeedDrainCloserTraced interface {
	FeedDrainCloser
	Traced
}

// Relay moves one batch from feeder to drainer.
func Relay(ctx context.Context, feeder Feeder, drainer Drainer) error {
	recs, err := feeder.Feed(ctx)
	if len(recs) > 0 {
		if derr := drainer.Drain(ctx, recs); err == nil {
			err = derr
		}
	}
	return err
}

// PumpThenClose pumps, then closes both ends. The feed error wins.
func PumpThenClose(ctx context.Context, feed FeedCloser, drain DrainCloser) error {
	var ferr, derr error
	for ferr == nil && derr == nil {
		var recs codec.Records
		recs, ferr = feed.Feed(ctx)
		if len(recs) > 0 {
			derr = drain.Drain(ctx, recs)
		}
	}
	_ = feed.Close()
	_ = drain.Close()
	if ferr != nil {
		return ferr
	}
	return derr
}
