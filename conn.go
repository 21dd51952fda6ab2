// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/penumbra-x/h2/hpack"
)

const (
	prefaceTimeout         = 10 * time.Second
	firstSettingsTimeout   = 2 * time.Second // should be in-flight with preface anyway
	goAwayTimeout          = 1 * time.Second
	handlerChunkWriteSize  = 4 << 10
	defaultMaxConcurrent   = 250
	maxQueuedControlFrames = 10000
)

// Config configures a connection. The zero value is a valid
// configuration using protocol defaults.
type Config struct {
	// MaxReadFrameSize is the largest frame payload we're willing
	// to read, advertised in SETTINGS_MAX_FRAME_SIZE. Zero means
	// 1MB. Values are clamped to the protocol's legal range.
	MaxReadFrameSize uint32

	// MaxConcurrentStreams is the number of concurrent
	// peer-initiated streams we advertise. Zero means 250.
	MaxConcurrentStreams uint32

	// InitialWindowSize is the per-stream receive window we
	// advertise. Zero means the protocol default of 65535.
	InitialWindowSize uint32

	// MaxHeaderTableSize is the HPACK dynamic table size we allow
	// our decoder to use. Zero means the protocol default of 4096.
	MaxHeaderTableSize uint32

	// MaxHeaderListSize caps the decoded size of a peer's header
	// block. Zero means a sane default.
	MaxHeaderListSize uint32

	// EnablePush is whether we accept PUSH_PROMISE frames from a
	// server. Only meaningful on initiating connections; requires
	// OnPush to be set.
	EnablePush bool

	// OnPush, if non-nil, is called (in its own goroutine) for
	// each pushed stream the peer reserves. The callee owns the
	// stream and should read or cancel it.
	OnPush func(*ClientStream)

	// Profile selects the wire fingerprint presented when
	// initiating. The zero value is ProfileChrome.
	Profile Profile

	// WindowUpdateThreshold batches receiver-side WINDOW_UPDATE
	// frames: updates are withheld until at least this many bytes
	// have been consumed. Zero sends updates immediately.
	WindowUpdateThreshold uint32

	// Logger optionally specifies a logger for errors and (when
	// VerboseLogs is set) debug events. Nil means log.Printf.
	Logger *log.Logger
}

func (cfg *Config) maxReadFrameSize() uint32 {
	if v := cfg.MaxReadFrameSize; v >= minMaxFrameSize && v <= maxFrameSize {
		return v
	}
	return defaultMaxReadFrameSize
}

func (cfg *Config) maxConcurrentStreams() uint32 {
	if v := cfg.MaxConcurrentStreams; v > 0 {
		return v
	}
	return defaultMaxConcurrent
}

func (cfg *Config) initialWindowSize() int32 {
	if v := cfg.InitialWindowSize; v > 0 && v <= maxUint31 {
		return int32(v)
	}
	return initialWindowSize
}

func (cfg *Config) maxHeaderTableSize() uint32 {
	if v := cfg.MaxHeaderTableSize; v > 0 {
		return v
	}
	return initialHeaderTableSize
}

// conn is the state of a single HTTP/2 connection, either side.
// Almost all of its fields are owned by the serve goroutine; see the
// per-field comments.
type conn struct {
	// Immutable:
	config           *Config
	nc               io.ReadWriteCloser
	bw               *bufferedWriter // writing to a chunkWriter{this *conn}
	framer           *Framer
	isClient         bool
	handler          StreamHandler // nil on client conns
	doneServing      chan struct{} // closed when serve ends
	readFrameCh      chan readFrameResult
	wantWriteFrameCh chan frameWriteMsg  // from application goroutines -> serve
	wroteFrameCh     chan frameWriteResult // from writeFrameAsync -> serve, tickles more frame writes
	bodyReadCh       chan bodyReadMsg    // from stream readers -> serve
	serveMsgCh       chan interface{}    // open/ping/shutdown requests -> serve
	testHookCh       chan func()         // code to run on the serve loop

	flow   flow // our conn-level send quota to the peer
	inflow flow // peer's conn-level quota; what we've granted

	// Everything following is owned by the serve loop; use serveG.check():
	serveG                goroutineLock // used to verify funcs are on serve()
	pendingConnWindowUpd  int32         // receive bytes consumed but not yet granted back
	maxStreamID           uint32        // max ever opened by peer
	nextStreamID          uint32        // next stream we open (client: odd; server push: even)
	streams               map[uint32]*stream
	priorities            *priorityTree
	initialWindowSize     int32 // peer's SETTINGS_INITIAL_WINDOW_SIZE for our sends
	maxFrameSize          int32 // peer's SETTINGS_MAX_FRAME_SIZE for our writes
	peerMaxStreams        uint32 // how many streams the peer lets us open
	advMaxStreams         uint32 // our SETTINGS_MAX_CONCURRENT_STREAMS
	curPeerStreams        uint32 // number of open streams the peer initiated
	curLocalStreams       uint32 // number of open streams we initiated
	sawFirstSettings      bool // got the initial SETTINGS frame after the preface
	needToSendSettingsAck bool
	unackedSettings       int  // how many SETTINGS have we sent without ACKs?
	queuedControlFrames   int  // control frames in the writeSched queue
	pushEnabledByPeer     bool // peer's SETTINGS_ENABLE_PUSH
	writingFrame          bool // sent a frame to writeFrameAsync but haven't heard back
	needsFrameFlush       bool // last frame write wasn't a flush
	inGoAway              bool // we have started to or sent GOAWAY
	needToSendGoAway      bool
	goAwayCode            ErrCode
	peerGone              bool   // peer sent GOAWAY (or the conn died)
	peerGoneErr           error
	peerLastStreamID      uint32 // LastStreamID from the peer's GOAWAY
	lastPromisedID        uint32 // most recent even id the peer promised (client side)
	shutdownTimer         *time.Timer // nil until used
	settingsTimer         *time.Timer
	pendingOpens          []*startStreamMsg // opens queued behind peer's MAX_CONCURRENT_STREAMS
	activePings           map[[8]byte]chan struct{}
	writeSched            writeScheduler

	// Owned by the writeFrameAsync goroutine:
	headerWriteBuf bytes.Buffer
	hpackEncoder   *hpack.Encoder

	// peerSettings is readable off the serve loop.
	peerMu       sync.Mutex
	peerSettings map[SettingID]uint32
}

func newConn(nc io.ReadWriteCloser, cfg *Config, isClient bool) *conn {
	if cfg == nil {
		cfg = new(Config)
	}
	c := &conn{
		config:           cfg,
		nc:               nc,
		isClient:         isClient,
		doneServing:      make(chan struct{}),
		readFrameCh:      make(chan readFrameResult),
		wantWriteFrameCh: make(chan frameWriteMsg, 8),
		wroteFrameCh:     make(chan frameWriteResult, 1),
		bodyReadCh:       make(chan bodyReadMsg),
		serveMsgCh:       make(chan interface{}, 8),
		testHookCh:       make(chan func()),
		streams:          make(map[uint32]*stream),
		priorities:       newPriorityTree(),
		initialWindowSize: initialWindowSize,
		maxFrameSize:     initialMaxFrameSize,
		peerMaxStreams:   math32Max,
		advMaxStreams:    cfg.maxConcurrentStreams(),
		pushEnabledByPeer: true,
		peerSettings:     make(map[SettingID]uint32),
	}
	c.writeSched = newWriteScheduler(c.priorities)
	c.flow.add(initialWindowSize)
	c.inflow.add(initialWindowSize)

	c.bw = newBufferedWriter(nc)
	fr := NewFramer(c.bw, nc)
	fr.ReadMetaHeaders = hpack.NewDecoder(cfg.maxHeaderTableSize(), nil)
	fr.MaxHeaderListSize = cfg.MaxHeaderListSize
	fr.SetMaxReadFrameSize(cfg.maxReadFrameSize())
	c.framer = fr

	c.hpackEncoder = hpack.NewEncoder(&c.headerWriteBuf)

	if isClient {
		c.nextStreamID = 1
	} else {
		c.nextStreamID = 2
	}
	return c
}

const math32Max = 1<<32 - 1

func (c *conn) logf(format string, args ...interface{}) {
	if lg := c.config.Logger; lg != nil {
		lg.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

func (c *conn) vlogf(format string, args ...interface{}) {
	if VerboseLogs {
		c.logf(format, args...)
	}
}

func (c *conn) condlogf(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	str := err.Error()
	if err == io.EOF || strings.Contains(str, "use of closed network connection") {
		// Boring, expected errors.
		c.vlogf(format, args...)
	} else {
		c.logf(format, args...)
	}
}

// writeContext implementation (called by writeFramer types on the
// writeFrameAsync goroutine):

func (c *conn) Framer() *Framer  { return c.framer }
func (c *conn) CloseConn() error { return c.nc.Close() }
func (c *conn) Flush() error     { return c.bw.Flush() }
func (c *conn) HeaderEncoder() (*hpack.Encoder, *bytes.Buffer) {
	return c.hpackEncoder, &c.headerWriteBuf
}
func (c *conn) MaxFrameSize() uint32 { return uint32(c.maxFrameSize) }

func (c *conn) setPeerSetting(s Setting) {
	c.peerMu.Lock()
	c.peerSettings[s.ID] = s.Val
	c.peerMu.Unlock()
}

// PeerSetting reports the most recent value the peer advertised for
// the given setting, and whether it ever advertised one.
func (c *conn) PeerSetting(id SettingID) (uint32, bool) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	v, ok := c.peerSettings[id]
	return v, ok
}

// readPreface reads the ClientPreface greeting from the peer (server
// side only), or returns an error on timeout or invalid greeting.
func (c *conn) readPreface() error {
	errc := make(chan error, 1)
	go func() {
		// Read the client preface
		buf := make([]byte, len(ClientPreface))
		if _, err := io.ReadFull(c.nc, buf); err != nil {
			errc <- err
		} else if !bytes.Equal(buf, clientPreface) {
			errc <- fmt.Errorf("bogus greeting %q", buf)
		} else {
			errc <- nil
		}
	}()
	timer := time.NewTimer(prefaceTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return errors.New("timeout waiting for client preface")
	case err := <-errc:
		if err == nil {
			c.vlogf("http2: connection reading frames")
		}
		return err
	}
}

// initialSettings returns the SETTINGS frame this side opens with.
func (c *conn) initialSettings() []Setting {
	if c.isClient {
		settings := c.config.Profile.settings()
		// The profile's ENABLE_PUSH choice yields to the config.
		out := settings[:0:0]
		sawPush := false
		for _, s := range settings {
			if s.ID == SettingEnablePush {
				sawPush = true
				if c.config.EnablePush && c.config.OnPush != nil {
					s.Val = 1
				} else {
					s.Val = 0
				}
			}
			out = append(out, s)
		}
		if !sawPush && !(c.config.EnablePush && c.config.OnPush != nil) {
			out = append(out, Setting{SettingEnablePush, 0})
		}
		return out
	}
	return []Setting{
		{SettingMaxFrameSize, c.config.maxReadFrameSize()},
		{SettingMaxConcurrentStreams, c.advMaxStreams},
		{SettingInitialWindowSize, uint32(c.config.initialWindowSize())},
		{SettingHeaderTableSize, c.config.maxHeaderTableSize()},
	}
}

func (c *conn) serve() error {
	c.serveG = newGoroutineLock()
	defer c.notifyDone()
	defer c.nc.Close()
	defer c.closeAllStreamsOnConnClose()
	defer c.stopTimers()

	c.vlogf("http2: connection from %v starting", c.nc)

	if c.isClient {
		if _, err := c.nc.Write(clientPreface); err != nil {
			return err
		}
	} else {
		if err := c.readPreface(); err != nil {
			c.condlogf(err, "http2: error reading preface: %v", err)
			return err
		}
	}

	c.writeFrame(frameWriteMsg{write: writeSettings(c.initialSettings())})
	c.unackedSettings++
	if c.isClient {
		// Grow the connection-level receive window the way the
		// profile's browser does, right after SETTINGS.
		incr := c.config.Profile.connWindowIncrement()
		c.inflow.add(int32(incr))
		c.writeFrame(frameWriteMsg{write: writeWindowUpdate{streamID: 0, n: incr}})
	}

	// Each connection starts with initialWindowSize inflow tokens;
	// servers grow theirs as the application consumes data.

	go c.readFrames() // closed by defer c.nc.Close above

	c.settingsTimer = time.AfterFunc(firstSettingsTimeout, c.onSettingsTimer)
	loopNum := 0
	for {
		loopNum++
		select {
		case wm := <-c.wantWriteFrameCh:
			c.writeFrame(wm)
		case res := <-c.wroteFrameCh:
			c.wroteFrame(res)
		case res := <-c.readFrameCh:
			if !c.processFrameFromReader(res) {
				return c.peerGoneErr
			}
			res.readMore()
			if c.settingsTimer != nil && c.sawFirstSettings {
				c.settingsTimer.Stop()
				c.settingsTimer = nil
			}
		case m := <-c.bodyReadCh:
			c.noteBodyRead(m.st, m.n)
		case msg := <-c.serveMsgCh:
			switch m := msg.(type) {
			case *startStreamMsg:
				c.startStream(m)
			case *pingMsg:
				c.startPing(m)
			case *pushStreamMsg:
				c.startPush(m.parent, m.hdrs, m.res)
			case *goAwayMsg:
				c.startGoAway(m.code)
			case settingsTimerMsg:
				if c.sawFirstSettings {
					break // raced the Stop; harmless
				}
				c.logf("timeout waiting for SETTINGS frames from %v", c.nc)
				return errors.New("timeout waiting for SETTINGS")
			case shutdownTimerMsg:
				c.vlogf("GOAWAY close timer fired; closing conn from %v", c.nc)
				return errors.New("closed after GOAWAY drain timeout")
			case closeMsg:
				return nil
			default:
				panic(fmt.Sprintf("unknown serve message %T", msg))
			}
		case fn := <-c.testHookCh:
			fn()
		case <-c.doneServing:
			return nil
		}
	}
}

func (c *conn) notifyDone() {
	select {
	case <-c.doneServing:
	default:
		close(c.doneServing)
	}
}

func (c *conn) stopTimers() {
	if t := c.settingsTimer; t != nil {
		t.Stop()
	}
	if t := c.shutdownTimer; t != nil {
		t.Stop()
	}
}

func (c *conn) onSettingsTimer() { c.sendServeMsg(settingsTimerMsg{}) }
func (c *conn) onShutdownTimer() { c.sendServeMsg(shutdownTimerMsg{}) }

type settingsTimerMsg struct{}
type shutdownTimerMsg struct{}
type closeMsg struct{}

type pingMsg struct {
	data [8]byte
	done chan struct{}
}

type goAwayMsg struct {
	code ErrCode
}

// startStreamMsg asks the serve loop to open a locally-initiated
// stream with the given opening header list.
type startStreamMsg struct {
	hdrs      []hpack.HeaderField
	endStream bool
	res       chan startStreamRes
}

type startStreamRes struct {
	st  *stream
	err error
}

func (c *conn) sendServeMsg(msg interface{}) {
	select {
	case c.serveMsgCh <- msg:
	case <-c.doneServing:
	}
}

func (c *conn) closeAllStreamsOnConnClose() {
	c.serveG.check()
	for _, st := range c.streams {
		c.closeStream(st, errClientDisconnected)
	}
	// Fail queued opens too.
	for _, m := range c.pendingOpens {
		m.res <- startStreamRes{err: errClientConnClosed}
	}
	c.pendingOpens = nil
}

// readFrames is the loop that reads incoming frames.
// It takes care to only read one frame at a time, blocking until the
// consumer is done with the frame.
// It's run on its own goroutine.
func (c *conn) readFrames() {
	gate := make(gate)
	gateDone := gate.Done
	for {
		f, err := c.framer.ReadFrame()
		select {
		case c.readFrameCh <- readFrameResult{f, err, gateDone}:
		case <-c.doneServing:
			return
		}
		select {
		case <-gate:
		case <-c.doneServing:
			return
		}
		if terminalReadFrameError(err) {
			return
		}
	}
}

// readFrameResult is the message passed from the readFrames goroutine
// to the serve goroutine.
type readFrameResult struct {
	f   Frame // valid until readMore is called
	err error

	// readMore should be called once the consumer no longer needs or
	// retains f. After readMore, f is invalid and more frames can be
	// read.
	readMore func()
}

// frameWriteResult is the message passed from writeFrameAsync to the serve goroutine.
type frameWriteResult struct {
	wm  frameWriteMsg // what was written (or attempted)
	err error         // result of the writeFrame call
}

// writeFrameAsync runs in its own goroutine and writes a single frame
// and then reports when it's done.
// At most one goroutine can be running writeFrameAsync at a time per
// conn.
func (c *conn) writeFrameAsync(wm frameWriteMsg) {
	err := wm.write.writeFrame(c)
	c.wroteFrameCh <- frameWriteResult{wm, err}
}

// writeFrame schedules a frame to write and sends it if there's nothing
// already being written.
//
// There is no pushback here (the serve goroutine never blocks). It's
// the http.Handlers that all run in their own goroutines and that get
// throttled via the state machine in the serve goroutine.
//
// If you're not on the serve goroutine, use writeFrameFromHandler instead.
func (c *conn) writeFrame(wm frameWriteMsg) {
	c.serveG.check()
	// If a frame is for a dead stream, don't bother queueing it.
	if wm.stream != nil {
		if _, ok := c.streams[wm.stream.id]; !ok && wm.stream.state == stateClosed {
			if wm.done != nil {
				wm.done <- errStreamBroken
			}
			return
		}
	}
	if wm.stream == nil {
		c.queuedControlFrames++
		if c.queuedControlFrames > maxQueuedControlFrames {
			// The peer is forcing unbounded control frame
			// buffering (e.g. a PING flood while never
			// reading). Hang up.
			c.logf("http2: too many queued control frames; closing conn from %v", c.nc)
			c.startGoAway(ErrCodeEnhanceYourCalm)
			return
		}
	}
	c.writeSched.add(wm)
	c.scheduleFrameWrite()
}

// writeFrameFromHandler sends wm to c.wantWriteFrameCh, but aborts if
// the connection has gone away.
//
// This must not be run from the serve goroutine itself, else it might
// deadlock writing to c.wantWriteFrameCh (which is only mildly
// buffered and is read by serve itself).
func (c *conn) writeFrameFromHandler(wm frameWriteMsg) error {
	c.serveG.checkNotOn() // NOT
	var streamDied chan struct{}
	if wm.stream != nil {
		streamDied = wm.stream.cw
	}
	select {
	case c.wantWriteFrameCh <- wm:
		return nil
	case <-c.doneServing:
		return errClientDisconnected
	case <-streamDied:
		return errStreamClosed
	}
}

// writeDataFromHandler writes the given DATA chunk and blocks until
// the frame (or an error) has made it to the wire, providing the
// backpressure that keeps application writers honest about flow
// control.
func (c *conn) writeDataFromHandler(st *stream, wd *writeData) error {
	c.serveG.checkNotOn() // NOT
	ch := errChanPool.Get().(chan error)
	err := c.writeFrameFromHandler(frameWriteMsg{
		write:  wd,
		stream: st,
		done:   ch,
	})
	if err != nil {
		return err
	}
	select {
	case err = <-ch:
	case <-c.doneServing:
		return errClientDisconnected
	case <-st.cw:
		// If both ch and stream cancellation were ready, prefer
		// the write result: it tells us whether our frame made it
		// out before the stream died.
		select {
		case err = <-ch:
		default:
			return errStreamClosed
		}
	}
	errChanPool.Put(ch)
	return err
}

// errChanPool lets us reuse per-write error channels.
var errChanPool = sync.Pool{
	New: func() interface{} { return make(chan error, 1) },
}

var errStreamBroken = errors.New("http2: frame write on broken stream")

// startFrameWrite starts a goroutine to write wm (in a separate
// goroutine since that might block on the network), and updates the
// serve goroutine's state about the world, updated from info in wm.
func (c *conn) startFrameWrite(wm frameWriteMsg) {
	c.serveG.check()
	if c.writingFrame {
		panic("internal error: can only be writing one frame at a time")
	}
	c.writingFrame = true

	st := wm.stream
	if st != nil {
		switch st.state {
		case stateHalfClosedLocal:
			if _, ok := wm.write.(StreamError); !ok {
				if _, ok := wm.write.(writeWindowUpdate); !ok {
					panic("internal error: attempt to send frame on half-closed-local stream")
				}
			}
		case stateClosed:
			if st.sentReset || st.gotReset {
				// Should have been skipped by the check in
				// writeFrame, but a frame could have been in
				// flight. Just skip it.
				c.writingFrame = false
				c.scheduleFrameWrite()
				return
			}
			panic(fmt.Sprintf("internal error: attempt to send a write %v on a closed stream", wm))
		}
	}

	go c.writeFrameAsync(wm)
}

// wroteFrame is called on the serve goroutine with the result of
// whatever happened on writeFrameAsync.
func (c *conn) wroteFrame(res frameWriteResult) {
	c.serveG.check()
	if !c.writingFrame {
		panic("internal error: expected to be already writing a frame")
	}
	c.writingFrame = false
	c.needsFrameFlush = true

	wm := res.wm
	st := wm.stream

	closeStream := endsStream(wm.write)
	_, wroteHeaders := wm.write.(*writeHeaders)

	if se, ok := wm.write.(StreamError); ok {
		// A RST_STREAM made it onto the wire.
		if st2, ok := c.streams[se.StreamID]; ok {
			st2.sentReset = true
			c.closeStream(st2, se)
		}
	}

	// Reply (if requested) to the blocked writer.
	if ch := wm.done; ch != nil {
		select {
		case ch <- res.err:
		default:
			panic(fmt.Sprintf("unbuffered done channel passed in for type %T", wm.write))
		}
	}
	wm.write = nil // prevent use (assume it's tainted after wm.done send)

	if st != nil {
		if closeStream {
			st.localEndStream = true
			switch st.state {
			case stateOpen:
				st.state = stateHalfClosedLocal
				if st.remoteEndStream {
					c.closeStream(st, nil)
				}
			case stateHalfClosedRemote, stateResvLocal:
				c.closeStream(st, nil)
			}
		} else if st.state == stateResvLocal && wroteHeaders {
			// Opening a promised stream: the peer can never
			// send on it, so it goes straight to half closed.
			st.state = stateHalfClosedRemote
			c.countStream(st)
		}
	}

	c.scheduleFrameWrite()
}

// scheduleFrameWrite tickles the frame writing scheduler.
//
// If a frame is already being written, nothing happens. This will be called again
// when the frame is done being written.
//
// If a frame isn't being written we need to send one, the best frame
// to send is selected, preferring first things that aren't
// stream-level frames: pings, settings acks, and GOAWAY.
func (c *conn) scheduleFrameWrite() {
	c.serveG.check()
	if c.writingFrame {
		return
	}
	if c.needToSendGoAway {
		c.needToSendGoAway = false
		c.startFrameWrite(frameWriteMsg{
			write: &writeGoAway{
				maxStreamID: c.maxStreamID,
				code:        c.goAwayCode,
			},
		})
		return
	}
	if c.needToSendSettingsAck {
		c.needToSendSettingsAck = false
		c.startFrameWrite(frameWriteMsg{write: writeSettingsAck{}})
		return
	}
	if !c.inGoAway || c.goAwayCode == ErrCodeNo {
		if wm, ok := c.writeSched.take(); ok {
			if wm.stream == nil {
				if c.queuedControlFrames > 0 {
					c.queuedControlFrames--
				}
			}
			c.startFrameWrite(wm)
			return
		}
	}
	if c.needsFrameFlush {
		c.startFrameWrite(frameWriteMsg{write: flushFrameWriter{}})
		c.needsFrameFlush = false // after startFrameWrite, since it sets this true
		return
	}
}

// startGoAway begins the GOAWAY dance: stop accepting new streams,
// write the GOAWAY frame, and (for graceful shutdowns) arm a timer to
// close the connection once drained.
func (c *conn) startGoAway(code ErrCode) {
	c.serveG.check()
	if c.inGoAway {
		return
	}
	if code != ErrCodeNo {
		c.shutDownIn(250 * time.Millisecond)
	} else {
		c.shutDownIn(goAwayTimeout)
	}
	c.inGoAway = true
	c.needToSendGoAway = true
	c.goAwayCode = code
	c.scheduleFrameWrite()
}

func (c *conn) shutDownIn(d time.Duration) {
	c.serveG.check()
	if c.shutdownTimer != nil {
		return
	}
	c.shutdownTimer = time.AfterFunc(d, c.onShutdownTimer)
}

func (c *conn) resetStream(se StreamError) {
	c.serveG.check()
	c.writeFrame(frameWriteMsg{write: se})
	if st, ok := c.streams[se.StreamID]; ok {
		st.sentReset = true
		c.closeStream(st, se)
	}
}

// processFrameFromReader processes the serve loop's read from
// readFrameCh from the frame-reading goroutine.
// processFrameFromReader reports whether the connection was usable
// after the frame was processed; false means serve should return.
func (c *conn) processFrameFromReader(res readFrameResult) bool {
	c.serveG.check()
	err := res.err
	if err != nil {
		if err == ErrFrameTooLarge {
			c.goAwayIn(ErrCodeFrameSize)
			return true // goAway will close the loop
		}
		clientGone := err == io.EOF || err == io.ErrUnexpectedEOF || isClosedConnError(err)
		if clientGone {
			// The peer closed the TCP connection without a
			// GOAWAY. Nothing to do beyond cleanup.
			c.peerGone = true
			c.peerGoneErr = io.EOF
			return false
		}
	} else {
		f := res.f
		c.vlogf("http2: read frame %v", summarizeFrame(f))
		err = c.processFrame(f)
		if err == nil {
			return true
		}
	}

	switch ev := err.(type) {
	case StreamError:
		c.resetStream(ev)
		return true
	case goAwayFlowError:
		c.goAwayIn(ErrCodeFlowControl)
		return true
	case ConnectionError:
		c.logf("http2: %v: connection error: %v", c.nc, ev)
		c.goAwayIn(ErrCode(ev))
		return true // goAway will handle shutdown
	default:
		if res.err != nil {
			c.logf("http2: disconnecting; error reading frame from %v: %v", c.nc, err)
		} else {
			c.logf("http2: disconnection due to other error: %v", err)
		}
		c.peerGoneErr = err
		return false
	}
}

// goAwayIn is startGoAway plus error-code bookkeeping used on the
// frame-processing error paths.
func (c *conn) goAwayIn(code ErrCode) {
	c.serveG.check()
	var detail string
	if ed := c.framer.ErrorDetail(); ed != nil {
		detail = ed.Error()
	}
	if detail != "" {
		c.vlogf("http2: sending GOAWAY %v: %v", code, detail)
	}
	c.startGoAway(code)
}

func (c *conn) processFrame(f Frame) error {
	c.serveG.check()

	// First frame received must be SETTINGS.
	if !c.sawFirstSettings {
		if _, ok := f.(*SettingsFrame); !ok {
			return ConnectionError(ErrCodeProtocol)
		}
		c.sawFirstSettings = true
	}

	switch f := f.(type) {
	case *SettingsFrame:
		return c.processSettings(f)
	case *MetaHeadersFrame:
		return c.processHeaders(f)
	case *WindowUpdateFrame:
		return c.processWindowUpdate(f)
	case *PingFrame:
		return c.processPing(f)
	case *DataFrame:
		return c.processData(f)
	case *RSTStreamFrame:
		return c.processResetStream(f)
	case *PriorityFrame:
		return c.processPriority(f)
	case *PushPromiseFrame:
		return c.processPushPromise(f)
	case *GoAwayFrame:
		return c.processGoAway(f)
	default:
		c.vlogf("http2: ignoring frame: %v", f.Header())
		return nil
	}
}

func (c *conn) processPing(f *PingFrame) error {
	c.serveG.check()
	if f.IsAck() {
		if ch, ok := c.activePings[f.Data]; ok {
			close(ch)
			delete(c.activePings, f.Data)
		}
		// Otherwise a ping we never sent; 6.7 says to ignore.
		return nil
	}
	// PING acks cost nothing and jump the whole write queue via the
	// zero queue in the scheduler.
	c.writeFrame(frameWriteMsg{write: writePingAck{data: f.Data}})
	return nil
}

func (c *conn) startPing(m *pingMsg) {
	c.serveG.check()
	if c.activePings == nil {
		c.activePings = make(map[[8]byte]chan struct{})
	}
	c.activePings[m.data] = m.done
	c.writeFrame(frameWriteMsg{write: writePing{data: m.data}})
}

func (c *conn) processWindowUpdate(f *WindowUpdateFrame) error {
	c.serveG.check()
	switch {
	case f.StreamID != 0: // stream-level flow control
		state, st := c.state(f.StreamID)
		if state == stateIdle {
			// Receiving a frame on an idle stream is a
			// connection error. (5.1)
			return ConnectionError(ErrCodeProtocol)
		}
		if st == nil {
			// "WINDOW_UPDATE can be sent by a peer that has
			// sent a frame bearing the END_STREAM flag. This
			// means that a receiver could receive a
			// WINDOW_UPDATE frame on a "half closed (remote)"
			// or "closed" stream. A receiver MUST NOT treat
			// this as an error." (6.9)
			return nil
		}
		if !st.flow.add(int32(f.Increment)) {
			return StreamError{f.StreamID, ErrCodeFlowControl}
		}
	default: // connection-level flow control
		if !c.flow.add(int32(f.Increment)) {
			return goAwayFlowError{}
		}
	}
	c.scheduleFrameWrite()
	return nil
}

func (c *conn) processResetStream(f *RSTStreamFrame) error {
	c.serveG.check()

	state, st := c.state(f.StreamID)
	if state == stateIdle {
		// 6.4 "RST_STREAM frames MUST NOT be sent for a
		// stream in the "idle" state. If a RST_STREAM frame
		// identifying an idle stream is received, the
		// recipient MUST treat this as a connection error
		// (Section 5.4.1) of type PROTOCOL_ERROR.
		return ConnectionError(ErrCodeProtocol)
	}
	if st != nil {
		st.gotReset = true
		c.closeStream(st, StreamError{f.StreamID, f.ErrCode})
	}
	return nil
}

// countStream charges st against the relevant concurrency limit.
// Reserved streams aren't counted until they leave the reserved state.
func (c *conn) countStream(st *stream) {
	c.serveG.check()
	st.counted = true
	if c.streamInitiatedLocally(st.id) {
		c.curLocalStreams++
	} else {
		c.curPeerStreams++
	}
}

func (c *conn) closeStream(st *stream, err error) {
	c.serveG.check()
	if st.state == stateIdle || st.state == stateClosed {
		panic(fmt.Sprintf("invariant; can't close stream in state %v", st.state))
	}
	st.state = stateClosed
	if st.counted {
		st.counted = false
		if c.streamInitiatedLocally(st.id) {
			c.curLocalStreams--
		} else {
			c.curPeerStreams--
		}
	}
	if st.body != nil {
		if err == nil {
			err = io.EOF
		}
		st.body.Close(err)
	}
	if cs := st.cs; cs != nil {
		cs.noteClosed(err)
	}
	delete(c.streams, st.id)
	st.cw.Close() // signal this in-flight request/stream is done
	c.writeSched.forgetStream(st.id)
	c.priorities.closeStream(st.id)
	c.servePendingOpens()
}

func (c *conn) processSettings(f *SettingsFrame) error {
	c.serveG.check()
	if f.IsAck() {
		c.unackedSettings--
		if c.unackedSettings < 0 {
			// Why is the peer ACKing settings we never sent?
			// The spec doesn't mention this case, but
			// hang up on them anyway.
			return ConnectionError(ErrCodeProtocol)
		}
		return nil
	}
	if err := f.ForeachSetting(c.processSetting); err != nil {
		return err
	}
	// The ack is queued before any frames the new settings would
	// affect, so by the time the peer sees it the settings are in
	// force.
	c.needToSendSettingsAck = true
	c.scheduleFrameWrite()
	return nil
}

func (c *conn) processSetting(s Setting) error {
	c.serveG.check()
	if err := s.Valid(); err != nil {
		return err
	}
	c.vlogf("http2: processing setting %v", s)
	c.setPeerSetting(s)
	switch s.ID {
	case SettingHeaderTableSize:
		c.hpackEncoder.SetMaxDynamicTableSize(s.Val)
	case SettingEnablePush:
		c.pushEnabledByPeer = s.Val == 1
	case SettingMaxConcurrentStreams:
		c.peerMaxStreams = s.Val
		c.servePendingOpens()
	case SettingInitialWindowSize:
		return c.processSettingInitialWindowSize(s.Val)
	case SettingMaxFrameSize:
		c.maxFrameSize = int32(s.Val) // the maximum valid s.Val is < 2^31
		c.writeSched.maxFrameSize = s.Val
	case SettingMaxHeaderListSize:
		// Advisory; our header writes are small.
	default:
		// Unknown setting: "An endpoint that receives a SETTINGS
		// frame with any unknown or unsupported identifier MUST
		// ignore that setting."
	}
	return nil
}

func (c *conn) processSettingInitialWindowSize(val uint32) error {
	c.serveG.check()
	// Note: val already validated to be within range by
	// processSetting's Valid call.

	// "A SETTINGS frame can alter the initial flow control window
	// size for all current streams. When the value of
	// SETTINGS_INITIAL_WINDOW_SIZE changes, a receiver MUST
	// adjust the size of all stream flow control windows that it
	// maintains by the difference between the new value and the
	// old value."
	old := c.initialWindowSize
	c.initialWindowSize = int32(val)
	growth := c.initialWindowSize - old // may be negative
	for _, st := range c.streams {
		if !st.flow.add(growth) {
			// 6.9.2 Initial Flow Control Window Size
			// "An endpoint MUST treat a change to
			// SETTINGS_INITIAL_WINDOW_SIZE that causes any flow
			// control window to exceed the maximum size as a
			// connection error (Section 5.4.1) of type
			// FLOW_CONTROL_ERROR."
			return ConnectionError(ErrCodeFlowControl)
		}
	}
	c.scheduleFrameWrite()
	return nil
}

func (c *conn) processData(f *DataFrame) error {
	c.serveG.check()
	data := f.Data()

	// "If a DATA frame is received whose stream is not in "open"
	// or "half closed (local)" state, the recipient MUST respond
	// with a stream error (Section 5.4.2) of type STREAM_CLOSED."
	id := f.Header().StreamID
	state, st := c.state(id)
	if state == stateIdle {
		// Receiving any frame other than HEADERS or PRIORITY on
		// an idle stream is a connection error. (5.1)
		return ConnectionError(ErrCodeProtocol)
	}
	if st == nil || !frameRecvLegal[st.state][FrameData] {
		// The peer may have raced frames against our RST_STREAM:
		// tolerate DATA for a bounded grace period, crediting the
		// connection-level window the peer spent.
		if st != nil && (st.sentReset || st.gotReset) || st == nil && state == stateClosed {
			if int(c.inflow.available()) < len(data) {
				return ConnectionError(ErrCodeFlowControl)
			}
			c.inflow.take(int32(len(data)))
			c.sendWindowUpdate(nil, len(data)) // conn-level
			return nil
		}
		return recvStreamError(state, FrameData, id)
	}
	if len(data) > 0 {
		// Check whether the peer has flow control quota.
		if int(st.inflow.available()) < len(data) {
			return StreamError{id, ErrCodeFlowControl}
		}
		st.inflow.take(int32(len(data)))
		wrote, err := st.body.Write(data)
		if err != nil {
			return StreamError{id, ErrCodeStreamClosed}
		}
		if wrote != len(data) {
			panic("internal error: bad Writer")
		}
		st.bodyBytes += int64(len(data))
	}
	if f.StreamEnded() {
		st.remoteEndStream = true
		st.body.Close(io.EOF)
		switch st.state {
		case stateOpen:
			st.state = stateHalfClosedRemote
		case stateHalfClosedLocal:
			c.closeStream(st, nil)
		}
		if cs := st.cs; cs != nil && st.state != stateClosed {
			cs.noteTrailers(nil)
		}
	}
	return nil
}

func (c *conn) processGoAway(f *GoAwayFrame) error {
	c.serveG.check()
	c.peerGone = true
	c.peerLastStreamID = f.LastStreamID
	if f.ErrCode != ErrCodeNo {
		c.peerGoneErr = ConnectionError(f.ErrCode)
		c.logf("http2: received GOAWAY %+v, starting graceful shutdown", f)
	} else {
		c.peerGoneErr = errClientConnClosed
		c.vlogf("http2: received graceful GOAWAY %+v", f)
	}

	// Abort locally-initiated streams above the peer's last
	// processed ID: the peer promises it never acted on them.
	for _, st := range c.streams {
		if c.streamInitiatedLocally(st.id) && st.id > f.LastStreamID {
			c.closeStream(st, errStreamUnprocessed)
		}
	}
	// And fail queued opens; they'd sit forever.
	for _, m := range c.pendingOpens {
		m.res <- startStreamRes{err: errStreamUnprocessed}
	}
	c.pendingOpens = nil

	// Keep serving the streams at or below LastStreamID; arm the
	// drain timer so an idle conn doesn't linger.
	if len(c.streams) == 0 {
		c.shutDownIn(250 * time.Millisecond)
	} else {
		c.shutDownIn(goAwayTimeout)
	}
	return nil
}

// errStreamUnprocessed means the peer's GOAWAY guaranteed the stream
// was never acted on; it is safe to retry on a new connection.
var errStreamUnprocessed = errors.New("http2: stream refused before processing; safe to retry")

func (c *conn) processPriority(f *PriorityFrame) error {
	c.serveG.check()
	if f.StreamDep == f.StreamID {
		// Section 5.3.1: "A stream cannot depend on itself. An
		// endpoint MUST treat this as a stream error (Section
		// 5.4.2) of type PROTOCOL_ERROR."
		return StreamError{f.StreamID, ErrCodeProtocol}
	}
	c.priorities.adjust(f.StreamID, f.PriorityParam)
	return nil
}

func (c *conn) processHeaders(f *MetaHeadersFrame) error {
	c.serveG.check()
	id := f.Header().StreamID

	if c.inGoAway && c.goAwayCode != ErrCodeNo {
		// Ignore.
		return nil
	}

	if c.streamInitiatedLocally(id) || c.isClient {
		// HEADERS on a stream we opened (a response), or on a
		// stream the peer pushed (its opening response headers).
		return c.processResponseHeaders(f)
	}
	return c.processRequestHeaders(f)
}

// processRequestHeaders handles HEADERS on the accepting side: either
// a new peer-initiated stream or trailers on an existing one.
func (c *conn) processRequestHeaders(f *MetaHeadersFrame) error {
	c.serveG.check()
	id := f.Header().StreamID

	// http://http2.github.io/http2-spec/#rfc.section.5.1.1
	// Streams initiated by a client MUST use odd-numbered stream
	// identifiers. [...] The identifier of a newly established
	// stream MUST be numerically greater than all streams that
	// the initiating endpoint has opened or reserved. [...] An
	// endpoint that receives an unexpected stream identifier
	// MUST respond with a connection error (Section 5.4.1) of
	// type PROTOCOL_ERROR.
	if id%2 != 1 {
		return ConnectionError(ErrCodeProtocol)
	}
	if id <= c.maxStreamID {
		// A HEADERS frame on an existing stream: trailers.
		st := c.streams[id]
		if st == nil {
			// No state: closed (or a race against our RST).
			if st2, closed := c.state(id); closed == nil && st2 == stateClosed {
				return nil
			}
			return StreamError{id, ErrCodeStreamClosed}
		}
		return c.processTrailerHeaders(st, f)
	}
	c.maxStreamID = id

	if c.inGoAway {
		// We sent (or will send) a graceful GOAWAY; new streams
		// above our advertised last ID get refused so the peer
		// retries elsewhere.
		c.resetStream(StreamError{id, ErrCodeRefusedStream})
		return nil
	}

	st := c.newStream(id, stateOpen)
	st.hdrs = f.Fields

	if f.StreamEnded() {
		st.remoteEndStream = true
		st.state = stateHalfClosedRemote
		st.body.Close(io.EOF)
	}

	if f.HasPriority() {
		if f.Priority.StreamDep == id {
			return StreamError{id, ErrCodeProtocol}
		}
		c.priorities.adjust(id, f.Priority)
	}

	if c.curPeerStreams > c.advMaxStreams {
		// "Endpoints MUST NOT exceed the limit set by their
		// peer. An endpoint that receives a HEADERS frame that
		// causes their advertised concurrent stream limit to be
		// exceeded MUST treat this as a stream error of type
		// PROTOCOL_ERROR or REFUSED_STREAM."
		if c.unackedSettings == 0 {
			// They should know better.
			return StreamError{id, ErrCodeProtocol}
		}
		// Assume it's a network race: the peer may have sent
		// this before our SETTINGS arrived. In that case the
		// spec says REFUSED_STREAM, so they retry.
		return StreamError{id, ErrCodeRefusedStream}
	}

	if f.Truncated {
		// The header list hit MaxHeaderListSize and f.Fields is
		// incomplete. Refuse the stream rather than run the
		// handler with a partial list.
		return StreamError{id, ErrCodeFrameSize}
	}

	if c.handler != nil {
		ss := newServerStream(st)
		st.ss = ss
		go c.runHandler(ss)
	}
	return nil
}

func (c *conn) processTrailerHeaders(st *stream, f *MetaHeadersFrame) error {
	c.serveG.check()
	if st.gotTrailerHeader {
		return ConnectionError(ErrCodeProtocol)
	}
	if !frameRecvLegal[st.state][FrameHeaders] {
		return recvStreamError(st.state, FrameHeaders, st.id)
	}
	st.gotTrailerHeader = true
	if f.Truncated {
		return StreamError{st.id, ErrCodeFrameSize}
	}
	if !f.StreamEnded() {
		return StreamError{st.id, ErrCodeProtocol}
	}
	if len(f.PseudoFields()) > 0 {
		return StreamError{st.id, ErrCodeProtocol}
	}
	st.trailers = f.Fields
	st.remoteEndStream = true
	st.body.Close(io.EOF)
	switch st.state {
	case stateOpen:
		st.state = stateHalfClosedRemote
	case stateHalfClosedLocal:
		c.closeStream(st, nil)
	}
	if cs := st.cs; cs != nil {
		cs.noteTrailers(f.Fields)
	}
	return nil
}

// processResponseHeaders handles HEADERS on the initiating side:
// response headers or trailers for a stream we opened, or the opening
// headers for a stream the peer pushed.
func (c *conn) processResponseHeaders(f *MetaHeadersFrame) error {
	c.serveG.check()
	id := f.Header().StreamID
	state, st := c.state(id)
	if state == stateIdle {
		// HEADERS on a stream we never opened.
		return ConnectionError(ErrCodeProtocol)
	}
	if st == nil {
		// Closed already (e.g. we RST it). Tolerate briefly.
		return nil
	}
	if !frameRecvLegal[st.state][FrameHeaders] {
		return recvStreamError(st.state, FrameHeaders, id)
	}

	if st.state == stateResvRemote {
		// Opening headers of a pushed response.
		st.state = stateHalfClosedLocal
		c.countStream(st)
	}

	if st.hdrs != nil || (st.cs != nil && st.cs.gotResponse()) {
		return c.processTrailerHeaders(st, f)
	}

	if f.Truncated {
		// Response header list exceeded MaxHeaderListSize.
		return StreamError{id, ErrCodeFrameSize}
	}

	st.hdrs = f.Fields
	if f.StreamEnded() {
		st.remoteEndStream = true
		st.body.Close(io.EOF)
		switch st.state {
		case stateOpen:
			st.state = stateHalfClosedRemote
		case stateHalfClosedLocal:
			c.closeStream(st, nil)
		}
	}
	if cs := st.cs; cs != nil {
		cs.noteResponse(f.Fields)
	}
	return nil
}

func (c *conn) processPushPromise(f *PushPromiseFrame) error {
	c.serveG.check()
	if !c.isClient {
		// "A client cannot push. Thus, servers MUST treat the
		// receipt of a PUSH_PROMISE frame as a connection error
		// (Section 5.4.1) of type PROTOCOL_ERROR."
		return ConnectionError(ErrCodeProtocol)
	}
	if !(c.config.EnablePush && c.config.OnPush != nil) {
		// We advertised ENABLE_PUSH=0.
		return ConnectionError(ErrCodeProtocol)
	}
	if f.PromiseID%2 != 0 || f.PromiseID <= c.lastPromisedID {
		return ConnectionError(ErrCodeProtocol)
	}
	// The associated stream must be one we opened and still open
	// for the peer to promise on.
	state, _ := c.state(f.Header().StreamID)
	if state != stateOpen && state != stateHalfClosedLocal {
		return ConnectionError(ErrCodeProtocol)
	}
	c.lastPromisedID = f.PromiseID
	c.maxStreamID = f.PromiseID

	// The framer doesn't coalesce PUSH_PROMISE continuations into
	// meta frames, so decode the promise block here. Any decode
	// error poisons the shared HPACK state and kills the conn.
	fields, err := c.framer.ReadMetaHeaders.DecodeFull(f.HeaderBlockFragment())
	if err != nil {
		return ConnectionError(ErrCodeCompression)
	}

	st := c.newStream(f.PromiseID, stateResvRemote)
	cs := newClientStream(st)
	st.cs = cs
	cs.promisedHdrs = fields

	go c.config.OnPush(cs)
	return nil
}

func (c *conn) newStream(id uint32, state streamState) *stream {
	c.serveG.check()
	if id == 0 {
		panic("internal error: cannot create stream with id 0")
	}
	st := &stream{
		c:     c,
		id:    id,
		state: state,
		body:  &pipe{b: newBuffer(int(c.config.initialWindowSize()))},
	}
	st.cw.Init()
	st.flow.conn = &c.flow // link to conn-level counter
	st.flow.add(c.initialWindowSize)
	st.inflow.conn = &c.inflow // link to conn-level counter
	st.inflow.add(c.config.initialWindowSize())

	c.streams[id] = st
	if state == stateOpen || state == stateHalfClosedRemote {
		c.countStream(st)
	}
	c.priorities.open(id, PriorityParam{})
	return st
}

// startStream opens a locally-initiated stream (the serve loop half
// of ClientConn.OpenStream), queueing behind the peer's concurrency
// limit when necessary.
func (c *conn) startStream(m *startStreamMsg) {
	c.serveG.check()
	if c.inGoAway || c.peerGone {
		m.res <- startStreamRes{err: errClientConnClosed}
		return
	}
	if c.curLocalStreams >= c.peerMaxStreams {
		c.pendingOpens = append(c.pendingOpens, m)
		return
	}
	id := c.nextStreamID
	c.nextStreamID += 2

	// The stream stays nominally open until the HEADERS frame is on
	// the wire; wroteFrame moves it to half closed (local) when the
	// frame carried END_STREAM.
	st := c.newStream(id, stateOpen)
	st.cs = newClientStream(st)

	var pri PriorityParam
	hdrs := m.hdrs
	if c.isClient {
		pri = c.config.Profile.headersPriority()
		c.config.Profile.sortPseudoFields(hdrs)
	}
	c.writeFrame(frameWriteMsg{
		write: &writeHeaders{
			streamID:  id,
			h:         hdrs,
			endStream: m.endStream,
			priority:  pri,
		},
		stream: st,
	})
	m.res <- startStreamRes{st: st}
}

func (c *conn) servePendingOpens() {
	c.serveG.check()
	for len(c.pendingOpens) > 0 && c.curLocalStreams < c.peerMaxStreams {
		m := c.pendingOpens[0]
		c.pendingOpens = c.pendingOpens[1:]
		c.startStream(m)
	}
}

// startPush reserves an even stream and writes the PUSH_PROMISE
// (server side).
func (c *conn) startPush(parent *stream, hdrs []hpack.HeaderField, res chan startStreamRes) {
	c.serveG.check()
	if !c.pushEnabledByPeer {
		res <- startStreamRes{err: ErrPushDisabled}
		return
	}
	if parent.state != stateOpen && parent.state != stateHalfClosedRemote {
		res <- startStreamRes{err: errStreamClosed}
		return
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	st := c.newStream(id, stateResvLocal)
	c.writeFrame(frameWriteMsg{
		write: &writePushPromise{
			streamID:  parent.id,
			promiseID: id,
			h:         hdrs,
		},
		stream: parent,
	})
	res <- startStreamRes{st: st}
}

// ErrPushDisabled is returned by ServerStream.Push when the peer has
// disabled server push via SETTINGS_ENABLE_PUSH.
var ErrPushDisabled = errors.New("http2: peer disabled server push")

// noteBodyRead is called on the serve loop when the application has
// consumed n bytes from a stream's body, and decides whether to grant
// the peer the window back now or batch it.
func (c *conn) noteBodyRead(st *stream, n int) {
	c.serveG.check()
	c.sendWindowUpdate(nil, n) // conn-level first
	if st != nil && st.state != stateClosed && st.state != stateHalfClosedRemote {
		// No need to refresh the stream window if the stream is
		// half-closed (remote): the peer can't send on it.
		c.sendWindowUpdate(st, n)
	}
}

// sendWindowUpdate grants the peer n more bytes of window, on st (or
// the connection when st is nil), subject to the batching threshold.
func (c *conn) sendWindowUpdate(st *stream, n int) {
	c.serveG.check()
	// "The legal range for the increment to the flow control
	// window is 1 to 2^31-1 (2,147,483,647) octets."
	// A Go Read call on 64-bit machines could in theory read
	// a larger Read than this. Very unlikely, but we handle it here
	// rather than elsewhere for now.
	for n >= maxUint31 {
		c.sendWindowUpdate32(st, maxUint31)
		n -= maxUint31
	}
	c.sendWindowUpdate32(st, int32(n))
}

func (c *conn) sendWindowUpdate32(st *stream, n int32) {
	c.serveG.check()
	if n == 0 {
		return
	}
	if n < 0 {
		panic("negative update")
	}

	threshold := int32(c.config.WindowUpdateThreshold)
	if st == nil {
		c.pendingConnWindowUpd += n
		if c.pendingConnWindowUpd < threshold {
			return
		}
		n = c.pendingConnWindowUpd
		c.pendingConnWindowUpd = 0
		if !c.inflow.add(n) {
			panic("internal error; sent too many window updates without decrements?")
		}
		c.writeFrame(frameWriteMsg{write: writeWindowUpdate{streamID: 0, n: uint32(n)}})
		return
	}

	st.pendingWindowUpd += n
	if st.pendingWindowUpd < threshold {
		return
	}
	n = st.pendingWindowUpd
	st.pendingWindowUpd = 0
	if !st.inflow.add(n) {
		panic("internal error; sent too many window updates without decrements?")
	}
	c.writeFrame(frameWriteMsg{
		write:  writeWindowUpdate{streamID: st.id, n: uint32(n)},
		stream: st,
	})
}

// bodyReadMsg tells the serve loop that the application has read n
// bytes of the DATA from the stream's body.
type bodyReadMsg struct {
	st *stream
	n  int
}

// noteBodyReadFromHandler is called from application goroutines.
func (c *conn) noteBodyReadFromHandler(st *stream, n int) {
	c.serveG.checkNotOn() // NOT on
	select {
	case c.bodyReadCh <- bodyReadMsg{st, n}:
	case <-c.doneServing:
	}
}

// runHandler runs an accepting-side stream handler in its own
// goroutine, resetting the stream if the handler panics.
func (c *conn) runHandler(ss *ServerStream) {
	defer func() {
		if e := recover(); e != nil {
			c.logf("http2: panic serving stream %d: %v", ss.st.id, e)
			ss.Reset(ErrCodeInternal)
			return
		}
		// A handler that returns without finishing the stream gets
		// it finished for it: cleanly if it at least sent headers,
		// with a reset otherwise.
		switch {
		case ss.sentEnd:
		case ss.wroteHeaders:
			ss.CloseSend()
		default:
			ss.Reset(ErrCodeInternal)
		}
	}()
	// Anything the handler didn't read is abandoned once it returns.
	defer ss.st.body.Close(errClosedBody)
	c.handler.ServeStream(ss)
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
