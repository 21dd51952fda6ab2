// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"errors"
	"io"

	"golang.org/x/net/http/httpguts"

	"github.com/penumbra-x/h2/hpack"
)

// A StreamHandler serves a single peer-initiated stream. Each stream
// gets its own goroutine; ServeStream returning means the handler is
// done writing (the stream is closed with whatever has been sent).
type StreamHandler interface {
	ServeStream(*ServerStream)
}

// StreamHandlerFunc adapts a function to a StreamHandler.
type StreamHandlerFunc func(*ServerStream)

func (f StreamHandlerFunc) ServeStream(ss *ServerStream) { f(ss) }

// A Server accepts HTTP/2 connections.
type Server struct {
	// Config configures accepted connections. Nil means defaults.
	Config *Config
}

// ServeConn serves an already-accepted connection (any ordered byte
// stream: TCP, TLS, a net.Pipe in tests) until the peer hangs up, a
// fatal protocol error occurs, or the connection is shut down.
// Each peer-initiated stream is handed to h in its own goroutine.
//
// ServeConn blocks; it always closes nc before returning.
func (s *Server) ServeConn(nc io.ReadWriteCloser, h StreamHandler) error {
	if h == nil {
		return errors.New("http2: nil StreamHandler")
	}
	c := newConn(nc, s.Config, false)
	c.handler = h
	return c.serve()
}

// ServerStream is the handler's view of one peer-initiated stream.
//
// Reads and writes may be used concurrently with each other, but
// neither Read nor the write methods may be called concurrently with
// themselves.
type ServerStream struct {
	st *stream
	c  *conn

	wroteHeaders bool
	sentEnd      bool
}

func newServerStream(st *stream) *ServerStream {
	return &ServerStream{st: st, c: st.c}
}

// Headers returns the stream's opening header list, pseudo-header
// fields first, in the order the peer sent them.
func (ss *ServerStream) Headers() []hpack.HeaderField { return ss.st.hdrs }

// Trailers returns the peer's trailer fields. It is only valid after
// Read has returned io.EOF.
func (ss *ServerStream) Trailers() []hpack.HeaderField { return ss.st.trailers }

// StreamID returns the stream's identifier.
func (ss *ServerStream) StreamID() uint32 { return ss.st.id }

// Read reads the stream's body. Consuming body bytes is what opens
// the peer's flow control window back up.
func (ss *ServerStream) Read(p []byte) (n int, err error) {
	n, err = ss.st.body.Read(p)
	if n > 0 {
		ss.c.noteBodyReadFromHandler(ss.st, n)
	}
	return
}

// WriteHeaders sends a header block on the stream. The first call
// carries the response headers; a later call (after body writes, with
// endStream set) carries trailers.
func (ss *ServerStream) WriteHeaders(h []hpack.HeaderField, endStream bool) error {
	if ss.sentEnd {
		return errStreamClosed
	}
	if len(h) == 0 {
		return errors.New("http2: empty header list")
	}
	if err := validateHeaderList(h); err != nil {
		return err
	}
	ch := errChanPool.Get().(chan error)
	err := ss.c.writeFrameFromHandler(frameWriteMsg{
		write: &writeHeaders{
			streamID:  ss.st.id,
			h:         h,
			endStream: endStream,
		},
		stream: ss.st,
		done:   ch,
	})
	if err != nil {
		return err
	}
	select {
	case err = <-ch:
	case <-ss.c.doneServing:
		return errClientDisconnected
	case <-ss.st.cw:
		return errStreamClosed
	}
	errChanPool.Put(ch)
	if err == nil {
		ss.wroteHeaders = true
		if endStream {
			ss.sentEnd = true
		}
	}
	return err
}

// Write sends body bytes. WriteHeaders must be called first. Write
// blocks until the bytes are on the wire (or queued behind flow
// control and then written), which is what paces the handler to the
// peer's consumption rate.
func (ss *ServerStream) Write(p []byte) (n int, err error) {
	if !ss.wroteHeaders {
		return 0, errors.New("http2: Write before WriteHeaders")
	}
	if ss.sentEnd {
		return 0, errStreamClosed
	}
	if err := ss.c.writeDataFromHandler(ss.st, &writeData{streamID: ss.st.id, p: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteTrailers sends h as a trailer block and closes the sending
// side of the stream. h may be empty, in which case a bare END_STREAM
// DATA frame is sent instead.
func (ss *ServerStream) WriteTrailers(h []hpack.HeaderField) error {
	if len(h) == 0 {
		return ss.CloseSend()
	}
	return ss.WriteHeaders(h, true)
}

// CloseSend closes the sending side of the stream with an empty DATA
// frame carrying END_STREAM.
func (ss *ServerStream) CloseSend() error {
	if ss.sentEnd {
		return nil
	}
	err := ss.c.writeDataFromHandler(ss.st, &writeData{streamID: ss.st.id, endStream: true})
	if err == nil {
		ss.sentEnd = true
	}
	return err
}

// Push reserves a new server-initiated stream carrying the given
// request-shaped header list, and returns a ServerStream on which the
// handler writes the promised response. It fails with ErrPushDisabled
// if the peer turned pushes off.
func (ss *ServerStream) Push(h []hpack.HeaderField) (*ServerStream, error) {
	if err := validateHeaderList(h); err != nil {
		return nil, err
	}
	res := make(chan startStreamRes, 1)
	select {
	case ss.c.serveMsgCh <- &pushStreamMsg{parent: ss.st, hdrs: h, res: res}:
	case <-ss.c.doneServing:
		return nil, errClientDisconnected
	}
	select {
	case r := <-res:
		if r.err != nil {
			return nil, r.err
		}
		pushed := newServerStream(r.st)
		r.st.ss = pushed
		return pushed, nil
	case <-ss.c.doneServing:
		return nil, errClientDisconnected
	}
}

// Reset abruptly terminates the stream with the given error code.
func (ss *ServerStream) Reset(code ErrCode) {
	ss.c.writeFrameFromHandler(frameWriteMsg{
		write:  StreamError{ss.st.id, code},
		stream: ss.st,
	})
}

// Done returns a channel that's closed when the stream is fully
// closed (reset, finished, or the connection died).
func (ss *ServerStream) Done() <-chan struct{} { return ss.st.cw }

type pushStreamMsg struct {
	parent *stream
	hdrs   []hpack.HeaderField
	res    chan startStreamRes
}

// validateHeaderList enforces the wire-level field rules: lower-case
// token names, legal value octets, pseudo-header fields only at the
// front.
func validateHeaderList(h []hpack.HeaderField) error {
	sawRegular := false
	for _, hf := range h {
		if hf.IsPseudo() {
			if sawRegular {
				return errPseudoAfterRegular
			}
			if !validPseudoHeader(hf.Name) {
				return pseudoHeaderError(hf.Name)
			}
		} else {
			sawRegular = true
			if !validWireHeaderFieldName(hf.Name) {
				return headerFieldNameError(hf.Name)
			}
		}
		if !httpguts.ValidHeaderFieldValue(hf.Value) {
			return headerFieldValueError(hf.Value)
		}
	}
	return nil
}
