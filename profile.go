// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

import (
	"github.com/penumbra-x/h2/hpack"
)

// A Profile selects the connection fingerprint an initiating
// connection presents on the wire: the order of the request
// pseudo-header fields, the priority carried on the opening HEADERS
// frame, and the contents and order of the initial SETTINGS frame.
//
// Accepting connections ignore the profile.
type Profile int

const (
	ProfileChrome Profile = iota
	ProfileFirefox
	ProfileSafari
	ProfileEdge
	ProfileOkHttp
)

var profileName = [...]string{
	ProfileChrome:  "chrome",
	ProfileFirefox: "firefox",
	ProfileSafari:  "safari",
	ProfileEdge:    "edge",
	ProfileOkHttp:  "okhttp",
}

func (p Profile) String() string {
	if int(p) < len(profileName) {
		return profileName[p]
	}
	return "chrome"
}

// ProfileByName maps a profile name to a Profile. Unknown names map
// to ProfileChrome.
func ProfileByName(s string) Profile {
	switch s {
	case "firefox":
		return ProfileFirefox
	case "safari":
		return ProfileSafari
	case "edge":
		return ProfileEdge
	case "okhttp":
		return ProfileOkHttp
	}
	return ProfileChrome
}

// pseudoOrder returns the pseudo-header emission order for requests.
func (p Profile) pseudoOrder() [4]string {
	switch p {
	case ProfileChrome, ProfileEdge:
		return [4]string{":method", ":authority", ":scheme", ":path"}
	case ProfileSafari:
		return [4]string{":method", ":scheme", ":path", ":authority"}
	default: // Firefox, OkHttp
		return [4]string{":method", ":path", ":authority", ":scheme"}
	}
}

// headersPriority returns the stream dependency carried on the
// opening HEADERS frame of every request.
func (p Profile) headersPriority() PriorityParam {
	if p == ProfileSafari {
		return PriorityParam{StreamDep: 0, Weight: 254, Exclusive: false}
	}
	return PriorityParam{StreamDep: 0, Weight: 255, Exclusive: true}
}

// settings returns the initial SETTINGS frame payload, in emission
// order. Values observed from current browser builds.
func (p Profile) settings() []Setting {
	switch p {
	case ProfileFirefox:
		return []Setting{
			{SettingHeaderTableSize, 65536},
			{SettingInitialWindowSize, 131072},
			{SettingMaxFrameSize, 16384},
		}
	case ProfileSafari:
		return []Setting{
			{SettingHeaderTableSize, 4096},
			{SettingMaxConcurrentStreams, 100},
			{SettingInitialWindowSize, 2097152},
			{SettingMaxFrameSize, 16384},
			{SettingMaxHeaderListSize, 8192},
		}
	case ProfileOkHttp:
		return []Setting{
			{SettingHeaderTableSize, 4096},
			{SettingInitialWindowSize, 16777216},
		}
	default: // Chrome, Edge
		return []Setting{
			{SettingHeaderTableSize, 65536},
			{SettingEnablePush, 0},
			{SettingInitialWindowSize, 6291456},
			{SettingMaxHeaderListSize, 262144},
		}
	}
}

// connWindowIncrement is the WINDOW_UPDATE the profile sends right
// after its SETTINGS frame to grow the connection receive window.
func (p Profile) connWindowIncrement() uint32 {
	switch p {
	case ProfileFirefox:
		return 12517377
	case ProfileSafari:
		return 10485760
	case ProfileOkHttp:
		return 16711681
	default:
		return 15663105
	}
}

// sortPseudoFields reorders the pseudo-header fields at the front of
// h into the profile's emission order, leaving regular fields (and
// their relative order) alone. The slice is modified in place.
func (p Profile) sortPseudoFields(h []hpack.HeaderField) {
	n := 0
	for n < len(h) && h[n].IsPseudo() {
		n++
	}
	pseudo := h[:n]
	order := p.pseudoOrder()
	idx := 0
	for _, name := range order {
		for i := idx; i < len(pseudo); i++ {
			if pseudo[i].Name == name {
				pseudo[idx], pseudo[i] = pseudo[i], pseudo[idx]
				idx++
				break
			}
		}
	}
}
