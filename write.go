// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"bytes"
	"fmt"

	"github.com/penumbra-x/h2/hpack"
)

// writeFramer is implemented by any type that is ready to write a
// frame, possibly multiple frames (on the wire), to the underlying
// Framer.
type writeFramer interface {
	writeFrame(ctx writeContext) error
}

// writeContext is the interface needed by the various frame writer
// types below. All the writeFrame methods below are scheduled via the
// frame writing scheduler (see writeScheduler in writesched.go).
//
// This interface is implemented by *conn.
type writeContext interface {
	Framer() *Framer
	Flush() error
	CloseConn() error
	// HeaderEncoder returns an HPACK encoder that writes to the
	// returned buffer.
	HeaderEncoder() (*hpack.Encoder, *bytes.Buffer)
	// MaxFrameSize returns the peer's advertised SETTINGS_MAX_FRAME_SIZE,
	// bounding how big any single written frame may be.
	MaxFrameSize() uint32
}

// endsStream reports whether the given frame writer w will locally
// close the stream.
func endsStream(w writeFramer) bool {
	switch v := w.(type) {
	case *writeData:
		return v.endStream
	case *writeHeaders:
		return v.endStream
	case nil:
		// This can only happen if the caller reuses w after it's
		// been intentionally nil'ed out to prevent use. Keep this
		// here to catch future refactoring breaking it.
		panic("endsStream called on nil writeFramer")
	}
	return false
}

type flushFrameWriter struct{}

func (flushFrameWriter) writeFrame(ctx writeContext) error {
	return ctx.Flush()
}

type writeSettings []Setting

func (s writeSettings) writeFrame(ctx writeContext) error {
	return ctx.Framer().WriteSettings([]Setting(s)...)
}

type writeSettingsAck struct{}

func (writeSettingsAck) writeFrame(ctx writeContext) error {
	return ctx.Framer().WriteSettingsAck()
}

type writeGoAway struct {
	maxStreamID uint32
	code        ErrCode
}

func (p *writeGoAway) writeFrame(ctx writeContext) error {
	err := ctx.Framer().WriteGoAway(p.maxStreamID, p.code, nil)
	if p.code != 0 {
		ctx.Flush() // ignore error: we're hanging up on them anyway
		ctx.CloseConn()
	}
	return err
}

type writeData struct {
	streamID  uint32
	p         []byte
	endStream bool
}

func (w *writeData) String() string {
	return fmt.Sprintf("writeData(stream=%d, p=%d, endStream=%v)", w.streamID, len(w.p), w.endStream)
}

func (w *writeData) writeFrame(ctx writeContext) error {
	return ctx.Framer().WriteData(w.streamID, w.endStream, w.p)
}

// StreamError, as a writeFramer, writes a RST_STREAM frame carrying
// its error code.
func (se StreamError) writeFrame(ctx writeContext) error {
	return ctx.Framer().WriteRSTStream(se.StreamID, se.Code)
}

type writePing struct {
	data [8]byte
}

func (w writePing) writeFrame(ctx writeContext) error {
	return ctx.Framer().WritePing(false, w.data)
}

type writePingAck struct {
	data [8]byte
}

func (w writePingAck) writeFrame(ctx writeContext) error {
	return ctx.Framer().WritePing(true, w.data)
}

type writePriority struct {
	streamID uint32
	p        PriorityParam
}

func (w writePriority) writeFrame(ctx writeContext) error {
	return ctx.Framer().WritePriority(w.streamID, w.p)
}

// writeWindowUpdate updates a stream's window (or the connection's,
// when streamID is zero).
type writeWindowUpdate struct {
	streamID uint32 // or 0 for conn-level
	n        uint32
}

func (wu writeWindowUpdate) writeFrame(ctx writeContext) error {
	return ctx.Framer().WriteWindowUpdate(wu.streamID, wu.n)
}

// writeHeaders encodes a full header list and writes it as a HEADERS
// frame plus zero or more CONTINUATION frames, splitting on the
// peer's maximum frame size. The priority fields only appear on the
// initial HEADERS frame.
type writeHeaders struct {
	streamID  uint32
	h         []hpack.HeaderField
	endStream bool
	priority  PriorityParam
}

func (w *writeHeaders) writeFrame(ctx writeContext) error {
	enc, buf := ctx.HeaderEncoder()
	buf.Reset()
	for _, hf := range w.h {
		enc.WriteField(hf)
	}
	headerBlock := buf.Bytes()
	if len(headerBlock) == 0 {
		panic("unexpected empty hpack")
	}

	return splitHeaderBlock(ctx, headerBlock, func(ctx writeContext, frag []byte, firstFrag, lastFrag bool) error {
		if firstFrag {
			return ctx.Framer().WriteHeaders(HeadersFrameParam{
				StreamID:      w.streamID,
				BlockFragment: frag,
				EndStream:     w.endStream,
				EndHeaders:    lastFrag,
				Priority:      w.priority,
			})
		}
		return ctx.Framer().WriteContinuation(w.streamID, lastFrag, frag)
	})
}

// writePushPromise reserves a stream via PUSH_PROMISE, splitting the
// promised request headers across CONTINUATION frames if needed.
type writePushPromise struct {
	streamID  uint32 // the associated stream
	promiseID uint32
	h         []hpack.HeaderField
}

func (w *writePushPromise) writeFrame(ctx writeContext) error {
	enc, buf := ctx.HeaderEncoder()
	buf.Reset()
	for _, hf := range w.h {
		enc.WriteField(hf)
	}
	headerBlock := buf.Bytes()

	return splitHeaderBlock(ctx, headerBlock, func(ctx writeContext, frag []byte, firstFrag, lastFrag bool) error {
		if firstFrag {
			return ctx.Framer().WritePushPromise(PushPromiseParam{
				StreamID:      w.streamID,
				PromiseID:     w.promiseID,
				BlockFragment: frag,
				EndHeaders:    lastFrag,
			})
		}
		return ctx.Framer().WriteContinuation(w.streamID, lastFrag, frag)
	})
}

// splitHeaderBlock splits headerBlock into fragments no larger than
// the peer's max frame size and calls fn for each fragment. The first
// fragment belongs in a HEADERS or PUSH_PROMISE frame; the rest in
// CONTINUATION frames.
func splitHeaderBlock(ctx writeContext, headerBlock []byte, fn func(ctx writeContext, frag []byte, firstFrag, lastFrag bool) error) error {
	// Never assume more than the protocol minimum for header
	// frames even if the peer's SETTINGS said so, since settings
	// can change while frames are queued.
	max := ctx.MaxFrameSize()
	if max > minMaxFrameSize {
		max = minMaxFrameSize
	}
	if max < 1 {
		max = minMaxFrameSize
	}

	first := true
	for len(headerBlock) > 0 {
		frag := headerBlock
		if len(frag) > int(max) {
			frag = frag[:max]
		}
		headerBlock = headerBlock[len(frag):]
		if err := fn(ctx, frag, first, len(headerBlock) == 0); err != nil {
			return err
		}
		first = false
	}
	return nil
}
