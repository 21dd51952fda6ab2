// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import "testing"

func TestStreamStateString(t *testing.T) {
	tests := []struct {
		s    streamState
		want string
	}{
		{stateIdle, "Idle"},
		{stateOpen, "Open"},
		{stateHalfClosedLocal, "HalfClosedLocal"},
		{stateHalfClosedRemote, "HalfClosedRemote"},
		{stateResvLocal, "ResvLocal"},
		{stateResvRemote, "ResvRemote"},
		{stateClosed, "Closed"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("state %d String = %q; want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestFrameRecvLegal(t *testing.T) {
	tests := []struct {
		s    streamState
		f    FrameType
		want bool
	}{
		{stateIdle, FrameHeaders, true},
		{stateIdle, FramePriority, true},
		{stateIdle, FrameData, false},
		{stateIdle, FrameRSTStream, false},
		{stateIdle, FrameWindowUpdate, false},

		{stateOpen, FrameData, true},
		{stateOpen, FrameHeaders, true},
		{stateOpen, FrameRSTStream, true},
		{stateOpen, FrameWindowUpdate, true},

		// half closed (local): the peer may still send anything.
		{stateHalfClosedLocal, FrameData, true},
		{stateHalfClosedLocal, FrameHeaders, true},

		// half closed (remote): the peer promised not to send more.
		{stateHalfClosedRemote, FrameData, false},
		{stateHalfClosedRemote, FrameHeaders, false},
		{stateHalfClosedRemote, FramePriority, true},
		{stateHalfClosedRemote, FrameRSTStream, true},
		{stateHalfClosedRemote, FrameWindowUpdate, true},

		{stateResvLocal, FrameHeaders, false},
		{stateResvLocal, FrameRSTStream, true},
		{stateResvRemote, FrameHeaders, true},
		{stateResvRemote, FrameData, false},
		{stateResvRemote, FrameWindowUpdate, false},

		{stateClosed, FramePriority, true},
		{stateClosed, FrameData, false},
		{stateClosed, FrameHeaders, false},
		{stateClosed, FrameRSTStream, false},
	}
	for _, tt := range tests {
		if got := frameRecvLegal[tt.s][tt.f]; got != tt.want {
			t.Errorf("recv %v in %v = %v; want %v", tt.f, tt.s, got, tt.want)
		}
	}
}

func TestFrameSendLegal(t *testing.T) {
	tests := []struct {
		s    streamState
		f    FrameType
		want bool
	}{
		{stateIdle, FrameHeaders, true},
		{stateIdle, FrameData, false},

		{stateOpen, FrameData, true},

		// half closed (local): we sent END_STREAM already.
		{stateHalfClosedLocal, FrameData, false},
		{stateHalfClosedLocal, FrameHeaders, false},
		{stateHalfClosedLocal, FrameRSTStream, true},
		{stateHalfClosedLocal, FrameWindowUpdate, true},

		{stateHalfClosedRemote, FrameData, true},
		{stateHalfClosedRemote, FrameHeaders, true},

		{stateResvLocal, FrameHeaders, true},
		{stateResvLocal, FrameWindowUpdate, false},
		{stateResvRemote, FrameHeaders, false},
		{stateResvRemote, FrameRSTStream, true},

		{stateClosed, FramePriority, true},
		{stateClosed, FrameData, false},
	}
	for _, tt := range tests {
		if got := frameSendLegal[tt.s][tt.f]; got != tt.want {
			t.Errorf("send %v in %v = %v; want %v", tt.f, tt.s, got, tt.want)
		}
	}
}

func TestRecvStreamError(t *testing.T) {
	tests := []struct {
		s    streamState
		want ErrCode
	}{
		{stateClosed, ErrCodeStreamClosed},
		{stateHalfClosedRemote, ErrCodeStreamClosed},
		{stateOpen, ErrCodeProtocol},
		{stateIdle, ErrCodeProtocol},
		{stateResvRemote, ErrCodeProtocol},
	}
	for _, tt := range tests {
		err := recvStreamError(tt.s, FrameData, 3)
		se, ok := err.(StreamError)
		if !ok {
			t.Fatalf("recvStreamError in %v returned %T; want StreamError", tt.s, err)
		}
		if se.StreamID != 3 {
			t.Errorf("StreamID = %d; want 3", se.StreamID)
		}
		if se.Code != tt.want {
			t.Errorf("recvStreamError in %v = %v; want %v", tt.s, se.Code, tt.want)
		}
	}
}
