// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"io"
	"sync"

	"github.com/penumbra-x/h2/hpack"
)

// ClientConn is the initiating side of an HTTP/2 connection.
type ClientConn struct {
	c *conn

	mu       sync.Mutex
	serveErr error // valid after doneServing is closed
}

// Connect starts speaking HTTP/2 as the initiator over nc (any
// ordered byte stream; TLS with ALPN "h2" in the common case). It
// writes the client preface and the configured fingerprint's SETTINGS
// and returns immediately; the connection is driven by a background
// goroutine until Close, a GOAWAY drain finishes, or the conn dies.
func Connect(nc io.ReadWriteCloser, cfg *Config) (*ClientConn, error) {
	c := newConn(nc, cfg, true)
	cc := &ClientConn{c: c}
	go func() {
		err := c.serve()
		cc.mu.Lock()
		cc.serveErr = err
		cc.mu.Unlock()
	}()
	return cc, nil
}

// Done returns a channel that's closed once the connection is fully
// shut down.
func (cc *ClientConn) Done() <-chan struct{} { return cc.c.doneServing }

// Err returns the error the connection's serve loop ended with. It is
// only meaningful after Done()'s channel is closed; nil means a clean
// shutdown.
func (cc *ClientConn) Err() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.serveErr
}

// PeerSetting reports the most recent value the peer advertised for a
// setting, and whether it ever advertised one.
func (cc *ClientConn) PeerSetting(id SettingID) (uint32, bool) {
	return cc.c.PeerSetting(id)
}

// OpenStream opens a new stream carrying the given request header
// list. Pseudo-header fields are reordered to the configured
// fingerprint's preference before encoding. If the peer's
// MAX_CONCURRENT_STREAMS limit is reached the open is queued and
// OpenStream blocks until a slot frees up.
//
// With endStream set the request has no body and the stream is opened
// half-closed (local).
func (cc *ClientConn) OpenStream(hdrs []hpack.HeaderField, endStream bool) (*ClientStream, error) {
	if err := validateHeaderList(hdrs); err != nil {
		return nil, err
	}
	res := make(chan startStreamRes, 1)
	msg := &startStreamMsg{hdrs: hdrs, endStream: endStream, res: res}
	select {
	case cc.c.serveMsgCh <- msg:
	case <-cc.c.doneServing:
		return nil, errClientConnClosed
	}
	select {
	case r := <-res:
		if r.err != nil {
			return nil, r.err
		}
		return r.st.cs, nil
	case <-cc.c.doneServing:
		return nil, errClientConnClosed
	}
}

// Ping sends a PING frame with the given payload and blocks until the
// peer echoes it back.
func (cc *ClientConn) Ping(data [8]byte) error {
	done := make(chan struct{})
	select {
	case cc.c.serveMsgCh <- &pingMsg{data: data, done: done}:
	case <-cc.c.doneServing:
		return errClientConnClosed
	}
	select {
	case <-done:
		return nil
	case <-cc.c.doneServing:
		return errClientConnClosed
	}
}

// GoAway starts a graceful shutdown: a GOAWAY(NO_ERROR) is sent, no
// new streams may be opened, and the connection closes once in-flight
// streams finish draining.
func (cc *ClientConn) GoAway() error {
	select {
	case cc.c.serveMsgCh <- &goAwayMsg{code: ErrCodeNo}:
		return nil
	case <-cc.c.doneServing:
		return errClientConnClosed
	}
}

// Close tears the connection down immediately. In-flight streams fail
// with a connection-closed error.
func (cc *ClientConn) Close() error {
	select {
	case cc.c.serveMsgCh <- closeMsg{}:
	case <-cc.c.doneServing:
	}
	<-cc.c.doneServing
	return cc.Err()
}

// ClientStream is the initiator's view of one stream it opened, or of
// a stream the peer pushed (delivered via Config.OnPush).
type ClientStream struct {
	st *stream
	c  *conn

	sentEnd bool // request side finished

	mu           sync.Mutex
	respHdrs     []hpack.HeaderField
	trailerHdrs  []hpack.HeaderField
	promisedHdrs []hpack.HeaderField
	closeErr     error
	respc        chan struct{} // closed on response headers or stream death
	respClosed   bool
}

func newClientStream(st *stream) *ClientStream {
	return &ClientStream{
		st:    st,
		c:     st.c,
		respc: make(chan struct{}),
	}
}

// StreamID returns the stream's identifier.
func (cs *ClientStream) StreamID() uint32 { return cs.st.id }

// Write sends request body bytes, blocking while the peer's flow
// control windows are exhausted.
func (cs *ClientStream) Write(p []byte) (n int, err error) {
	if cs.sentEnd {
		return 0, errStreamClosed
	}
	if err := cs.c.writeDataFromHandler(cs.st, &writeData{streamID: cs.st.id, p: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseSend finishes the request body with an empty END_STREAM DATA
// frame.
func (cs *ClientStream) CloseSend() error {
	if cs.sentEnd {
		return nil
	}
	err := cs.c.writeDataFromHandler(cs.st, &writeData{streamID: cs.st.id, endStream: true})
	if err == nil {
		cs.sentEnd = true
	}
	return err
}

// WriteTrailers sends h as a trailer block, ending the request body.
func (cs *ClientStream) WriteTrailers(h []hpack.HeaderField) error {
	if cs.sentEnd {
		return errStreamClosed
	}
	if len(h) == 0 {
		return cs.CloseSend()
	}
	if err := validateHeaderList(h); err != nil {
		return err
	}
	ch := errChanPool.Get().(chan error)
	err := cs.c.writeFrameFromHandler(frameWriteMsg{
		write: &writeHeaders{
			streamID:  cs.st.id,
			h:         h,
			endStream: true,
		},
		stream: cs.st,
		done:   ch,
	})
	if err != nil {
		return err
	}
	select {
	case err = <-ch:
	case <-cs.c.doneServing:
		return errClientConnClosed
	case <-cs.st.cw:
		return errStreamClosed
	}
	errChanPool.Put(ch)
	if err == nil {
		cs.sentEnd = true
	}
	return err
}

// ReadResponse blocks until the response header block arrives and
// returns it, pseudo-header fields first. If the stream dies first
// (reset, GOAWAY, connection loss) the stream's error is returned.
func (cs *ClientStream) ReadResponse() ([]hpack.HeaderField, error) {
	<-cs.respc
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.respHdrs != nil {
		return cs.respHdrs, nil
	}
	return nil, cs.closeErr
}

// Read reads response body bytes. It returns io.EOF once the peer
// ends the stream; Trailers is valid after that.
func (cs *ClientStream) Read(p []byte) (n int, err error) {
	n, err = cs.st.body.Read(p)
	if n > 0 {
		cs.c.noteBodyReadFromHandler(cs.st, n)
	}
	return
}

// Trailers returns the peer's trailer fields, if any. Only valid
// after Read has returned io.EOF.
func (cs *ClientStream) Trailers() []hpack.HeaderField {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.trailerHdrs
}

// PromisedHeaders returns the request header list carried by the
// PUSH_PROMISE that created this stream, or nil if the stream wasn't
// pushed.
func (cs *ClientStream) PromisedHeaders() []hpack.HeaderField {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.promisedHdrs
}

// Cancel abandons the stream with RST_STREAM(CANCEL). It never blocks
// on flow control; pending reads fail with the reset error.
func (cs *ClientStream) Cancel() {
	cs.c.writeFrameFromHandler(frameWriteMsg{
		write:  StreamError{cs.st.id, ErrCodeCancel},
		stream: cs.st,
	})
}

// Done returns a channel that's closed when the stream is fully
// closed.
func (cs *ClientStream) Done() <-chan struct{} { return cs.st.cw }

// gotResponse reports whether the response header block has arrived.
// Called on the serve goroutine to tell responses from trailers.
func (cs *ClientStream) gotResponse() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.respHdrs != nil
}

func (cs *ClientStream) noteResponse(fields []hpack.HeaderField) {
	cs.mu.Lock()
	cs.respHdrs = fields
	closed := cs.respClosed
	cs.respClosed = true
	cs.mu.Unlock()
	if !closed {
		close(cs.respc)
	}
}

func (cs *ClientStream) noteTrailers(fields []hpack.HeaderField) {
	cs.mu.Lock()
	cs.trailerHdrs = fields
	cs.mu.Unlock()
}

func (cs *ClientStream) noteClosed(err error) {
	cs.mu.Lock()
	if cs.closeErr == nil {
		if err == nil || err == io.EOF {
			err = errStreamClosed
		}
		cs.closeErr = err
	}
	closed := cs.respClosed
	cs.respClosed = true
	cs.mu.Unlock()
	if !closed {
		close(cs.respc)
	}
}
