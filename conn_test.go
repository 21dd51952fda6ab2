// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"bytes"
	"io"
	"log"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/penumbra-x/h2/hpack"
)

// serverTester drives an accepting connection from the peer's side,
// speaking raw frames over one end of a net.Pipe.
type serverTester struct {
	t         testing.TB
	cc        net.Conn // our side of the pipe
	fr        *Framer
	serveErrc chan error

	// settings advertised by the server in its greeting, captured
	// by greet. The frame itself is only valid until the next read.
	settings map[SettingID]uint32

	hbuf bytes.Buffer
	henc *hpack.Encoder
}

func newServerTester(t testing.TB, cfg *Config, handler func(*ServerStream)) *serverTester {
	if cfg == nil {
		cfg = new(Config)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	p0, p1 := net.Pipe()
	p0.SetDeadline(time.Now().Add(5 * time.Second))

	st := &serverTester{
		t:         t,
		cc:        p0,
		serveErrc: make(chan error, 1),
	}
	st.henc = hpack.NewEncoder(&st.hbuf)
	st.fr = NewFramer(p0, p0)
	st.fr.ReadMetaHeaders = hpack.NewDecoder(initialHeaderTableSize, nil)

	srv := &Server{Config: cfg}
	go func() { st.serveErrc <- srv.ServeConn(p1, StreamHandlerFunc(handler)) }()
	return st
}

func (st *serverTester) Close() {
	st.cc.Close()
	<-st.serveErrc
}

// greet completes the opening exchange: preface and SETTINGS both
// ways, both acked.
func (st *serverTester) greet(settings ...Setting) {
	st.t.Helper()
	st.writePreface()
	if err := st.fr.WriteSettings(settings...); err != nil {
		st.t.Fatal(err)
	}
	sf := st.wantSettings()
	st.settings = make(map[SettingID]uint32)
	sf.ForeachSetting(func(s Setting) error {
		st.settings[s.ID] = s.Val
		return nil
	})
	if err := st.fr.WriteSettingsAck(); err != nil {
		st.t.Fatal(err)
	}
	st.wantSettingsAck()
}

func (st *serverTester) writePreface() {
	st.t.Helper()
	if _, err := io.WriteString(st.cc, ClientPreface); err != nil {
		st.t.Fatalf("writing preface: %v", err)
	}
}

// encodeHeader encodes the given name/value pairs, in order, into a
// header block.
func (st *serverTester) encodeHeader(headers ...string) []byte {
	if len(headers)%2 == 1 {
		panic("odd number of kv args")
	}
	st.hbuf.Reset()
	for len(headers) > 0 {
		k, v := headers[0], headers[1]
		headers = headers[2:]
		if err := st.henc.WriteField(hpack.HeaderField{Name: k, Value: v}); err != nil {
			st.t.Fatalf("encoding header %q = %q: %v", k, v, err)
		}
	}
	return st.hbuf.Bytes()
}

func (st *serverTester) writeHeaders(p HeadersFrameParam) {
	st.t.Helper()
	if err := st.fr.WriteHeaders(p); err != nil {
		st.t.Fatalf("writing HEADERS: %v", err)
	}
}

func (st *serverTester) readFrame() Frame {
	st.t.Helper()
	f, err := st.fr.ReadFrame()
	if err != nil {
		st.t.Fatalf("ReadFrame: %v", err)
	}
	return f
}

func (st *serverTester) wantSettings() *SettingsFrame {
	st.t.Helper()
	f := st.readFrame()
	sf, ok := f.(*SettingsFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *SettingsFrame", f)
	}
	if sf.IsAck() {
		st.t.Fatal("got a SETTINGS ACK; want a SETTINGS frame")
	}
	return sf
}

func (st *serverTester) wantSettingsAck() {
	st.t.Helper()
	f := st.readFrame()
	sf, ok := f.(*SettingsFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *SettingsFrame", f)
	}
	if !sf.IsAck() {
		st.t.Fatal("got a SETTINGS frame; want a SETTINGS ACK")
	}
}

func (st *serverTester) wantHeaders() *MetaHeadersFrame {
	st.t.Helper()
	f := st.readFrame()
	mh, ok := f.(*MetaHeadersFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *MetaHeadersFrame", f)
	}
	return mh
}

func (st *serverTester) wantData() *DataFrame {
	st.t.Helper()
	f := st.readFrame()
	df, ok := f.(*DataFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *DataFrame", f)
	}
	return df
}

func (st *serverTester) wantRSTStream(streamID uint32, code ErrCode) {
	st.t.Helper()
	f := st.readFrame()
	rs, ok := f.(*RSTStreamFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *RSTStreamFrame", f)
	}
	if rs.FrameHeader.StreamID != streamID {
		st.t.Fatalf("RST_STREAM StreamID = %d; want %d", rs.FrameHeader.StreamID, streamID)
	}
	if rs.ErrCode != code {
		st.t.Fatalf("RST_STREAM code = %v; want %v", rs.ErrCode, code)
	}
}

func (st *serverTester) wantGoAway(code ErrCode) *GoAwayFrame {
	st.t.Helper()
	f := st.readFrame()
	gf, ok := f.(*GoAwayFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *GoAwayFrame", f)
	}
	if gf.ErrCode != code {
		st.t.Fatalf("GOAWAY code = %v; want %v", gf.ErrCode, code)
	}
	return gf
}

func (st *serverTester) wantWindowUpdate(streamID, incr uint32) {
	st.t.Helper()
	f := st.readFrame()
	wu, ok := f.(*WindowUpdateFrame)
	if !ok {
		st.t.Fatalf("got a %T; want *WindowUpdateFrame", f)
	}
	if wu.FrameHeader.StreamID != streamID {
		st.t.Fatalf("WINDOW_UPDATE StreamID = %d; want %d", wu.FrameHeader.StreamID, streamID)
	}
	if wu.Increment != incr {
		st.t.Fatalf("WINDOW_UPDATE increment = %d; want %d", wu.Increment, incr)
	}
}

func fieldValue(h []hpack.HeaderField, name string) string {
	for _, hf := range h {
		if hf.Name == name {
			return hf.Value
		}
	}
	return ""
}

func TestServerRequestResponse(t *testing.T) {
	st := newServerTester(t, nil, func(ss *ServerStream) {
		h := ss.Headers()
		if got := fieldValue(h, ":method"); got != "GET" {
			t.Errorf(":method = %q; want GET", got)
		}
		if got := fieldValue(h, ":path"); got != "/" {
			t.Errorf(":path = %q; want /", got)
		}
		if err := ss.WriteHeaders([]hpack.HeaderField{
			{Name: ":status", Value: "200"},
			{Name: "content-type", Value: "text/plain"},
		}, false); err != nil {
			t.Errorf("WriteHeaders: %v", err)
			return
		}
		if _, err := ss.Write([]byte("hello")); err != nil {
			t.Errorf("Write: %v", err)
		}
		if err := ss.CloseSend(); err != nil {
			t.Errorf("CloseSend: %v", err)
		}
	})
	defer st.Close()

	st.greet()
	st.writeHeaders(HeadersFrameParam{
		StreamID: 1,
		BlockFragment: st.encodeHeader(
			":method", "GET",
			":path", "/",
			":scheme", "https",
			":authority", "example.com",
		),
		EndStream:  true,
		EndHeaders: true,
	})

	mh := st.wantHeaders()
	if mh.FrameHeader.StreamID != 1 {
		t.Errorf("response StreamID = %d; want 1", mh.FrameHeader.StreamID)
	}
	if got := mh.PseudoValue("status"); got != "200" {
		t.Errorf(":status = %q; want 200", got)
	}
	if mh.StreamEnded() {
		t.Error("response HEADERS carried END_STREAM; body expected")
	}

	df := st.wantData()
	if got := string(df.Data()); got != "hello" {
		t.Errorf("body = %q; want %q", got, "hello")
	}
	if df.StreamEnded() {
		t.Error("body DATA carried END_STREAM; separate empty frame expected")
	}

	df = st.wantData()
	if len(df.Data()) != 0 || !df.StreamEnded() {
		t.Errorf("got DATA %q (end=%v); want empty END_STREAM frame", df.Data(), df.StreamEnded())
	}
}

func TestServerRejectsBogusPreface(t *testing.T) {
	st := newServerTester(t, nil, func(*ServerStream) {})
	defer st.cc.Close()

	// Exactly preface-length garbage.
	if _, err := io.WriteString(st.cc, "GET / HTTP/1.1\r\nHost: x\r\n"[:len(ClientPreface)]); err != nil {
		t.Fatal(err)
	}
	if err := <-st.serveErrc; err == nil {
		t.Fatal("ServeConn returned nil; want bogus greeting error")
	}
}

func TestServerFirstFrameMustBeSettings(t *testing.T) {
	st := newServerTester(t, nil, func(*ServerStream) {})
	defer st.Close()

	st.writePreface()
	if err := st.fr.WritePing(false, [8]byte{}); err != nil {
		t.Fatal(err)
	}
	st.wantSettings() // the server's own, already in flight
	st.wantGoAway(ErrCodeProtocol)
}

func TestServerPing(t *testing.T) {
	st := newServerTester(t, nil, func(*ServerStream) {})
	defer st.Close()

	st.greet()
	data := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := st.fr.WritePing(false, data); err != nil {
		t.Fatal(err)
	}
	f := st.readFrame()
	pf, ok := f.(*PingFrame)
	if !ok {
		t.Fatalf("got a %T; want *PingFrame", f)
	}
	if !pf.IsAck() {
		t.Error("response PING lacks ACK flag")
	}
	if pf.Data != data {
		t.Errorf("response PING data = %v; want %v", pf.Data, data)
	}
}

func TestServerRejectsSelfDependency(t *testing.T) {
	st := newServerTester(t, nil, func(*ServerStream) {})
	defer st.Close()

	st.greet()
	st.writeHeaders(HeadersFrameParam{
		StreamID: 1,
		BlockFragment: st.encodeHeader(
			":method", "GET",
			":path", "/",
			":scheme", "https",
			":authority", "example.com",
		),
		EndStream:  true,
		EndHeaders: true,
		Priority:   PriorityParam{StreamDep: 1, Weight: 15},
	})
	st.wantRSTStream(1, ErrCodeProtocol)
}

func TestServerDataOnIdleStream(t *testing.T) {
	st := newServerTester(t, nil, func(*ServerStream) {})
	defer st.Close()

	st.greet()
	if err := st.fr.WriteData(1, true, []byte("x")); err != nil {
		t.Fatal(err)
	}
	st.wantGoAway(ErrCodeProtocol)
}

func TestServerStreamLimit(t *testing.T) {
	st := newServerTester(t, &Config{MaxConcurrentStreams: 1}, func(ss *ServerStream) {
		// Hold the stream open until the connection dies.
		io.ReadAll(ss)
	})
	defer st.Close()

	st.greet()
	if v := st.settings[SettingMaxConcurrentStreams]; v != 1 {
		t.Fatalf("advertised MAX_CONCURRENT_STREAMS = %d; want 1", v)
	}
	st.writeHeaders(HeadersFrameParam{
		StreamID:      1,
		BlockFragment: st.encodeHeader(":method", "GET", ":path", "/", ":scheme", "https", ":authority", "a"),
		EndHeaders:    true,
	})
	st.writeHeaders(HeadersFrameParam{
		StreamID:      3,
		BlockFragment: st.encodeHeader(":method", "GET", ":path", "/", ":scheme", "https", ":authority", "a"),
		EndHeaders:    true,
	})
	// Our SETTINGS were acked before the excess HEADERS, so the peer
	// has no excuse: PROTOCOL_ERROR rather than REFUSED_STREAM.
	st.wantRSTStream(3, ErrCodeProtocol)
}

func TestServerZeroInitialWindowThenUpdate(t *testing.T) {
	st := newServerTester(t, nil, func(ss *ServerStream) {
		if err := ss.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, false); err != nil {
			t.Errorf("WriteHeaders: %v", err)
			return
		}
		if _, err := ss.Write([]byte("hi")); err != nil {
			t.Errorf("Write: %v", err)
		}
		ss.CloseSend()
	})
	defer st.Close()

	st.greet(Setting{SettingInitialWindowSize, 0})
	st.writeHeaders(HeadersFrameParam{
		StreamID:      1,
		BlockFragment: st.encodeHeader(":method", "GET", ":path", "/", ":scheme", "https", ":authority", "a"),
		EndStream:     true,
		EndHeaders:    true,
	})

	// Headers aren't flow controlled; they arrive even with a zero
	// window. The body stays queued until we grant window.
	mh := st.wantHeaders()
	if got := mh.PseudoValue("status"); got != "200" {
		t.Errorf(":status = %q; want 200", got)
	}

	if err := st.fr.WriteWindowUpdate(1, 5); err != nil {
		t.Fatal(err)
	}
	df := st.wantData()
	if got := string(df.Data()); got != "hi" {
		t.Errorf("body = %q; want %q", got, "hi")
	}
	df = st.wantData()
	if len(df.Data()) != 0 || !df.StreamEnded() {
		t.Errorf("got DATA %q (end=%v); want empty END_STREAM frame", df.Data(), df.StreamEnded())
	}
}

func TestServerWindowUpdateBatching(t *testing.T) {
	const bodyLen = 2000
	st := newServerTester(t, &Config{WindowUpdateThreshold: 1024}, func(ss *ServerStream) {
		buf := make([]byte, bodyLen)
		if _, err := io.ReadFull(ss, buf); err != nil {
			t.Errorf("ReadFull: %v", err)
		}
		ss.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, true)
	})
	defer st.Close()

	st.greet()
	st.writeHeaders(HeadersFrameParam{
		StreamID:      1,
		BlockFragment: st.encodeHeader(":method", "POST", ":path", "/", ":scheme", "https", ":authority", "a"),
		EndHeaders:    true,
	})
	if err := st.fr.WriteData(1, true, make([]byte, bodyLen)); err != nil {
		t.Fatal(err)
	}

	// One batched connection-level update covering the whole body;
	// no stream-level update since the peer already ended the stream.
	st.wantWindowUpdate(0, bodyLen)
	mh := st.wantHeaders()
	if !mh.StreamEnded() {
		t.Error("response HEADERS should carry END_STREAM")
	}
}

func TestServerNegativeWindowReplenish(t *testing.T) {
	const bodyLen = 100
	st := newServerTester(t, nil, func(ss *ServerStream) {
		if err := ss.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, false); err != nil {
			t.Errorf("WriteHeaders: %v", err)
			return
		}
		if _, err := ss.Write(make([]byte, bodyLen)); err != nil {
			t.Errorf("Write: %v", err)
		}
		ss.CloseSend()
	})
	defer st.Close()

	st.greet(Setting{SettingInitialWindowSize, 64})
	st.writeHeaders(HeadersFrameParam{
		StreamID:      1,
		BlockFragment: st.encodeHeader(":method", "GET", ":path", "/", ":scheme", "https", ":authority", "a"),
		EndStream:     true,
		EndHeaders:    true,
	})
	st.wantHeaders()
	df := st.wantData()
	if got := len(df.Data()); got != 64 {
		t.Fatalf("first DATA chunk = %d bytes; want 64", got)
	}

	// Shrink the initial window to zero. The 64 bytes in flight push
	// the stream's window to -64; the stream just can't send until we
	// grant enough back.
	if err := st.fr.WriteSettings(Setting{SettingInitialWindowSize, 0}); err != nil {
		t.Fatal(err)
	}
	st.wantSettingsAck()
	if err := st.fr.WriteWindowUpdate(1, 200); err != nil {
		t.Fatal(err)
	}
	df = st.wantData()
	if got := len(df.Data()); got != bodyLen-64 {
		t.Fatalf("second DATA chunk = %d bytes; want %d", got, bodyLen-64)
	}
	df = st.wantData()
	if len(df.Data()) != 0 || !df.StreamEnded() {
		t.Fatalf("got DATA %q (end=%v); want empty END_STREAM frame", df.Data(), df.StreamEnded())
	}
}

func TestServerHeaderListTooLarge(t *testing.T) {
	handlerRan := make(chan struct{}, 1)
	st := newServerTester(t, &Config{MaxHeaderListSize: 100}, func(ss *ServerStream) {
		handlerRan <- struct{}{}
	})
	defer st.Close()

	st.greet()
	st.writeHeaders(HeadersFrameParam{
		StreamID: 1,
		BlockFragment: st.encodeHeader(
			":method", "GET", ":path", "/", ":scheme", "https", ":authority", "a",
			"x-filler-one", strings.Repeat("a", 60),
			"x-filler-two", strings.Repeat("b", 60),
		),
		EndStream:  true,
		EndHeaders: true,
	})
	st.wantRSTStream(1, ErrCodeFrameSize)
	select {
	case <-handlerRan:
		t.Error("handler ran on a stream with a truncated header list")
	default:
	}
}

func TestReservedStreamCounting(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p1.Close()
	defer p2.Close()
	c := newConn(p1, nil, false)

	parent := c.newStream(1, stateOpen)
	if got, want := c.curPeerStreams, uint32(1); got != want {
		t.Fatalf("curPeerStreams = %d; want %d", got, want)
	}

	// A freshly promised stream is reserved; it counts against the
	// concurrency limit only once its opening HEADERS go out.
	pushed := c.newStream(2, stateResvLocal)
	if got, want := c.curLocalStreams, uint32(0); got != want {
		t.Fatalf("curLocalStreams after reserve = %d; want %d", got, want)
	}
	pushed.state = stateHalfClosedRemote
	c.countStream(pushed)
	if got, want := c.curLocalStreams, uint32(1); got != want {
		t.Fatalf("curLocalStreams after promote = %d; want %d", got, want)
	}
	c.closeStream(pushed, nil)
	if got, want := c.curLocalStreams, uint32(0); got != want {
		t.Fatalf("curLocalStreams after close = %d; want %d", got, want)
	}

	// Closing a stream that never left the reserved state must not
	// drive the counter below zero.
	pushed2 := c.newStream(4, stateResvLocal)
	c.closeStream(pushed2, nil)
	if got, want := c.curLocalStreams, uint32(0); got != want {
		t.Fatalf("curLocalStreams after reserved close = %d; want %d", got, want)
	}
	c.closeStream(parent, nil)
	if got, want := c.curPeerStreams, uint32(0); got != want {
		t.Fatalf("curPeerStreams after close = %d; want %d", got, want)
	}
}

// clientTester drives an initiating connection from the accepting
// side, speaking raw frames over one end of a net.Pipe.
type clientTester struct {
	t  testing.TB
	nc net.Conn
	fr *Framer
	cc *ClientConn
}

func newClientTester(t testing.TB, cfg *Config) *clientTester {
	if cfg == nil {
		cfg = new(Config)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	p0, p1 := net.Pipe()
	p0.SetDeadline(time.Now().Add(5 * time.Second))

	cc, err := Connect(p1, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fr := NewFramer(p0, p0)
	fr.ReadMetaHeaders = hpack.NewDecoder(initialHeaderTableSize, nil)
	return &clientTester{t: t, nc: p0, fr: fr, cc: cc}
}

func (ct *clientTester) Close() {
	ct.cc.Close()
	ct.nc.Close()
}

func (ct *clientTester) wantPreface() {
	ct.t.Helper()
	buf := make([]byte, len(ClientPreface))
	if _, err := io.ReadFull(ct.nc, buf); err != nil {
		ct.t.Fatalf("reading preface: %v", err)
	}
	if string(buf) != ClientPreface {
		ct.t.Fatalf("greeting = %q; want %q", buf, ClientPreface)
	}
}

func (ct *clientTester) readFrame() Frame {
	ct.t.Helper()
	f, err := ct.fr.ReadFrame()
	if err != nil {
		ct.t.Fatalf("ReadFrame: %v", err)
	}
	return f
}

func (ct *clientTester) wantSettingsList() []Setting {
	ct.t.Helper()
	f := ct.readFrame()
	sf, ok := f.(*SettingsFrame)
	if !ok {
		ct.t.Fatalf("got a %T; want *SettingsFrame", f)
	}
	if sf.IsAck() {
		ct.t.Fatal("got a SETTINGS ACK; want a SETTINGS frame")
	}
	var got []Setting
	sf.ForeachSetting(func(s Setting) error {
		got = append(got, s)
		return nil
	})
	return got
}

func (ct *clientTester) wantWindowUpdate(streamID, incr uint32) {
	ct.t.Helper()
	f := ct.readFrame()
	wu, ok := f.(*WindowUpdateFrame)
	if !ok {
		ct.t.Fatalf("got a %T; want *WindowUpdateFrame", f)
	}
	if wu.FrameHeader.StreamID != streamID || wu.Increment != incr {
		ct.t.Fatalf("WINDOW_UPDATE = stream %d incr %d; want stream %d incr %d",
			wu.FrameHeader.StreamID, wu.Increment, streamID, incr)
	}
}

func (ct *clientTester) wantHeaders() *MetaHeadersFrame {
	ct.t.Helper()
	f := ct.readFrame()
	mh, ok := f.(*MetaHeadersFrame)
	if !ok {
		ct.t.Fatalf("got a %T; want *MetaHeadersFrame", f)
	}
	return mh
}

func TestClientGreetingChrome(t *testing.T) {
	ct := newClientTester(t, nil)
	defer ct.Close()

	ct.wantPreface()
	got := ct.wantSettingsList()
	want := []Setting{
		{SettingHeaderTableSize, 65536},
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, 6291456},
		{SettingMaxHeaderListSize, 262144},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SETTINGS = %v; want %v", got, want)
	}
	ct.wantWindowUpdate(0, 15663105)

	if _, err := ct.cc.OpenStream([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":scheme", Value: "https"},
		{Name: "accept", Value: "*/*"},
	}, true); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	mh := ct.wantHeaders()
	if mh.FrameHeader.StreamID != 1 {
		t.Errorf("HEADERS StreamID = %d; want 1", mh.FrameHeader.StreamID)
	}
	if !mh.StreamEnded() {
		t.Error("request HEADERS should carry END_STREAM")
	}
	if !mh.HasPriority() {
		t.Fatal("request HEADERS lacks priority")
	}
	if want := (PriorityParam{StreamDep: 0, Weight: 255, Exclusive: true}); mh.Priority != want {
		t.Errorf("priority = %+v; want %+v", mh.Priority, want)
	}
	wantOrder := []string{":method", ":authority", ":scheme", ":path", "accept"}
	for i, name := range wantOrder {
		if mh.Fields[i].Name != name {
			t.Errorf("field %d = %q; want %q", i, mh.Fields[i].Name, name)
		}
	}
}

func TestClientGreetingSafari(t *testing.T) {
	ct := newClientTester(t, &Config{Profile: ProfileSafari})
	defer ct.Close()

	ct.wantPreface()
	got := ct.wantSettingsList()
	want := []Setting{
		{SettingHeaderTableSize, 4096},
		{SettingMaxConcurrentStreams, 100},
		{SettingInitialWindowSize, 2097152},
		{SettingMaxFrameSize, 16384},
		{SettingMaxHeaderListSize, 8192},
		{SettingEnablePush, 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SETTINGS = %v; want %v", got, want)
	}
	ct.wantWindowUpdate(0, 10485760)

	if _, err := ct.cc.OpenStream([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
	}, true); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	mh := ct.wantHeaders()
	if !mh.HasPriority() {
		t.Fatal("request HEADERS lacks priority")
	}
	if want := (PriorityParam{StreamDep: 0, Weight: 254, Exclusive: false}); mh.Priority != want {
		t.Errorf("priority = %+v; want %+v", mh.Priority, want)
	}
	wantOrder := []string{":method", ":scheme", ":path", ":authority"}
	for i, name := range wantOrder {
		if mh.Fields[i].Name != name {
			t.Errorf("field %d = %q; want %q", i, mh.Fields[i].Name, name)
		}
	}
}

func TestClientFirefoxDisablesPush(t *testing.T) {
	// Firefox's SETTINGS carries no ENABLE_PUSH entry; with push off
	// (no OnPush configured) an explicit 0 is appended.
	ct := newClientTester(t, &Config{Profile: ProfileFirefox})
	defer ct.Close()

	ct.wantPreface()
	got := ct.wantSettingsList()
	want := []Setting{
		{SettingHeaderTableSize, 65536},
		{SettingInitialWindowSize, 131072},
		{SettingMaxFrameSize, 16384},
		{SettingEnablePush, 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SETTINGS = %v; want %v", got, want)
	}
	ct.wantWindowUpdate(0, 12517377)
}

func TestClientRejectedAfterGoAway(t *testing.T) {
	ct := newClientTester(t, nil)
	defer ct.nc.Close()

	ct.wantPreface()
	ct.wantSettingsList()
	ct.wantWindowUpdate(0, 15663105)
	if err := ct.fr.WriteSettings(); err != nil {
		t.Fatal(err)
	}
	if err := ct.fr.WriteGoAway(0, ErrCodeNo, nil); err != nil {
		t.Fatal(err)
	}

	// With no streams in flight a graceful GOAWAY drains quickly.
	select {
	case <-ct.cc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not shut down after GOAWAY")
	}
	if _, err := ct.cc.OpenStream([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "a"},
	}, true); err == nil {
		t.Fatal("OpenStream succeeded after GOAWAY; want error")
	}
}

func TestConnectServeRoundTrip(t *testing.T) {
	p0, p1 := net.Pipe()
	quiet := log.New(io.Discard, "", 0)

	srv := &Server{Config: &Config{Logger: quiet}}
	serveErrc := make(chan error, 1)
	go func() {
		serveErrc <- srv.ServeConn(p1, StreamHandlerFunc(func(ss *ServerStream) {
			if got := fieldValue(ss.Headers(), ":method"); got != "GET" {
				t.Errorf(":method = %q; want GET", got)
			}
			if err := ss.WriteHeaders([]hpack.HeaderField{
				{Name: ":status", Value: "200"},
				{Name: "content-type", Value: "text/plain"},
			}, false); err != nil {
				t.Errorf("WriteHeaders: %v", err)
				return
			}
			if _, err := io.WriteString(ss, "hello, h2"); err != nil {
				t.Errorf("writing body: %v", err)
			}
			if err := ss.WriteTrailers([]hpack.HeaderField{{Name: "x-result", Value: "ok"}}); err != nil {
				t.Errorf("WriteTrailers: %v", err)
			}
		}))
	}()

	cc, err := Connect(p0, &Config{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	cs, err := cc.OpenStream([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
	}, true)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	hdrs, err := cs.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got := fieldValue(hdrs, ":status"); got != "200" {
		t.Errorf(":status = %q; want 200", got)
	}
	body, err := io.ReadAll(cs)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello, h2" {
		t.Errorf("body = %q; want %q", body, "hello, h2")
	}

	// A ping round trip serializes behind the trailer frame, so the
	// trailers are visible afterwards.
	if err := cc.Ping([8]byte{'p', 'i', 'n', 'g', 0, 0, 0, 1}); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got := fieldValue(cs.Trailers(), "x-result"); got != "ok" {
		t.Errorf("trailer x-result = %q; want ok", got)
	}

	if err := cc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	<-serveErrc
}

func TestServerPushRoundTrip(t *testing.T) {
	p0, p1 := net.Pipe()
	quiet := log.New(io.Discard, "", 0)

	type pushResult struct {
		promised []hpack.HeaderField
		hdrs     []hpack.HeaderField
		body     []byte
		err      error
	}
	pushc := make(chan pushResult, 1)

	srv := &Server{Config: &Config{Logger: quiet}}
	serveErrc := make(chan error, 1)
	go func() {
		serveErrc <- srv.ServeConn(p1, StreamHandlerFunc(func(ss *ServerStream) {
			pushed, err := ss.Push([]hpack.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":path", Value: "/style.css"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "example.com"},
			})
			if err != nil {
				t.Errorf("Push: %v", err)
			} else {
				pushed.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, false)
				pushed.Write([]byte("body{}"))
				pushed.CloseSend()
			}
			ss.WriteHeaders([]hpack.HeaderField{{Name: ":status", Value: "200"}}, true)
		}))
	}()

	cc, err := Connect(p0, &Config{
		Logger:     quiet,
		EnablePush: true,
		OnPush: func(cs *ClientStream) {
			var r pushResult
			r.promised = cs.PromisedHeaders()
			r.hdrs, r.err = cs.ReadResponse()
			if r.err == nil {
				r.body, r.err = io.ReadAll(cs)
			}
			pushc <- r
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	cs, err := cc.OpenStream([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
	}, true)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := cs.ReadResponse(); err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}

	select {
	case r := <-pushc:
		if r.err != nil {
			t.Fatalf("pushed stream: %v", r.err)
		}
		if got := fieldValue(r.promised, ":path"); got != "/style.css" {
			t.Errorf("promised :path = %q; want /style.css", got)
		}
		if got := fieldValue(r.hdrs, ":status"); got != "200" {
			t.Errorf("pushed :status = %q; want 200", got)
		}
		if string(r.body) != "body{}" {
			t.Errorf("pushed body = %q; want %q", r.body, "body{}")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for pushed stream")
	}

	cc.Close()
	<-serveErrc
}
