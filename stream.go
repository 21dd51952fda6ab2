// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"github.com/penumbra-x/h2/hpack"
)

type streamState int

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateResvLocal
	stateResvRemote
	stateClosed
)

var stateName = [...]string{
	stateIdle:             "Idle",
	stateOpen:             "Open",
	stateHalfClosedLocal:  "HalfClosedLocal",
	stateHalfClosedRemote: "HalfClosedRemote",
	stateResvLocal:        "ResvLocal",
	stateResvRemote:       "ResvRemote",
	stateClosed:           "Closed",
}

func (st streamState) String() string {
	return stateName[st]
}

// stream represents a stream. This is the minimal metadata needed by
// the connection's run loop. Application-visible state (reading the
// body, sending frames) lives on the ServerStream and ClientStream
// wrappers in server.go and client.go.
type stream struct {
	// immutable:
	c  *conn
	id uint32

	body *pipe       // inbound DATA frames; non-nil once headers seen
	cw   closeWaiter // closed once the stream is done

	// owned by the run loop and operated on by the frame-writing
	// goroutine only between scheduling decisions:
	flow   flow // our capacity to send DATA on this stream
	inflow flow // peer's capacity; what we've granted

	state            streamState
	counted          bool // charged against a concurrency limit
	localEndStream   bool // we sent END_STREAM (or RST)
	remoteEndStream  bool // peer sent END_STREAM
	sentReset        bool // we sent RST_STREAM
	gotReset         bool // peer sent RST_STREAM
	gotTrailerHeader bool // peer sent a second HEADERS (trailers)
	declBodyBytes    int64 // or -1 if no content-length known
	bodyBytes        int64 // DATA bytes seen so far
	pendingWindowUpd int32 // receive bytes consumed but not yet granted back

	// hdrs are the peer's opening headers, delivered to the
	// application exactly once.
	hdrs     []hpack.HeaderField
	trailers []hpack.HeaderField

	// cs is set on client-initiated and pushed streams owned by a
	// ClientConn; ss on streams handed to a Server's handler.
	cs *ClientStream
	ss *ServerStream
}

// state returns the stream's protocol state and whether the stream ID
// has ever existed. The conn's run loop owns all state transitions.
func (c *conn) state(streamID uint32) (streamState, *stream) {
	c.serveG.check()
	if st, ok := c.streams[streamID]; ok {
		return st.state, st
	}
	// The stream doesn't exist. Either it was never opened, or it
	// was opened and closed and forgotten. Compare against the
	// highest ID the creating side has used so far.
	if c.streamInitiatedLocally(streamID) {
		if streamID < c.nextStreamID {
			return stateClosed, nil
		}
	} else {
		if streamID <= c.maxStreamID {
			return stateClosed, nil
		}
	}
	return stateIdle, nil
}

// streamInitiatedLocally reports whether id belongs to the number
// space opened by this side of the connection. Clients open odd
// streams; servers open (push) even ones.
func (c *conn) streamInitiatedLocally(id uint32) bool {
	if c.isClient {
		return id%2 == 1
	}
	return id%2 == 0
}

// Frame legality tables, RFC 7540 section 5.1. A frame type absent
// from a state's set is a protocol violation in that state; the
// caller picks between a stream and connection error based on which
// state the violation happened in.
//
// CONTINUATION never appears here: the framer coalesces header blocks
// before the run loop sees them, and stray CONTINUATION frames are
// rejected at the framing layer.

var frameRecvLegal = map[streamState]map[FrameType]bool{
	stateIdle: {
		FrameHeaders:  true,
		FramePriority: true,
	},
	stateOpen: {
		FrameData:         true,
		FrameHeaders:      true,
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateHalfClosedLocal: {
		FrameData:         true,
		FrameHeaders:      true,
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateHalfClosedRemote: {
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateResvLocal: {
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateResvRemote: {
		FrameHeaders:  true,
		FramePriority: true,
		FrameRSTStream: true,
	},
	stateClosed: {
		FramePriority: true,
	},
}

var frameSendLegal = map[streamState]map[FrameType]bool{
	stateIdle: {
		FrameHeaders:  true,
		FramePriority: true,
	},
	stateOpen: {
		FrameData:         true,
		FrameHeaders:      true,
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateHalfClosedLocal: {
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateHalfClosedRemote: {
		FrameData:         true,
		FrameHeaders:      true,
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateResvLocal: {
		FrameHeaders:  true,
		FramePriority: true,
		FrameRSTStream: true,
	},
	stateResvRemote: {
		FramePriority:     true,
		FrameRSTStream:    true,
		FrameWindowUpdate: true,
	},
	stateClosed: {
		FramePriority: true,
	},
}

// recvStreamError returns the error for receiving a frame of type t in
// state s when the table says it's illegal. No state is mutated on
// the error path; the run loop decides whether the stream error
// escalates (frames on idle streams are connection errors per 5.1).
func recvStreamError(s streamState, t FrameType, streamID uint32) error {
	if s == stateClosed || s == stateHalfClosedRemote {
		// "An endpoint that receives any frame other than
		// PRIORITY after receiving a RST_STREAM MUST treat
		// that as a stream error of type STREAM_CLOSED."
		return StreamError{streamID, ErrCodeStreamClosed}
	}
	return StreamError{streamID, ErrCodeProtocol}
}
