package bayeux

import "strings"

// Connection type tokens recognized by the Bayeux protocol's
// supportedConnectionTypes negotiation.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_meta_handshake
const (
	ConnectionTypeLongPolling     = "long-polling"
	ConnectionTypeWebsocket       = "websocket"
	ConnectionTypeCallbackPolling = "callback-polling"
	ConnectionTypeIFrame          = "iframe"
)

// defaultConnectionTypes is what a handshake response's
// supportedConnectionTypes defaults to when the server omits it (spec §8
// boundary behavior).
var defaultConnectionTypes = []string{ConnectionTypeWebsocket, ConnectionTypeLongPolling}

func isKnownConnectionType(t string) bool {
	switch t {
	case ConnectionTypeLongPolling, ConnectionTypeWebsocket, ConnectionTypeCallbackPolling, ConnectionTypeIFrame:
		return true
	default:
		return false
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
