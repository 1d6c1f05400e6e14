// Package bayeux implements a client for the Bayeux protocol used by Faye
// and CometD servers: a publish/subscribe handshake over either a
// WebSocket or HTTP long-polling transport, with automatic reconnection
// driven by the server's advice.
//
// Create a client with NewClient and Connect it before use:
//
//	client, err := bayeux.NewClient("https://example.com/bayeux")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Disconnect(ctx)
//
// Subscribe registers a callback for every message on a matching channel,
// including wildcard patterns:
//
//	client.Subscribe(ctx, "/chat/**", func(msg bayeux.Message) {
//		var chat ChatMessage
//		json.Unmarshal(msg.Data, &chat)
//	})
//
// Extensions can observe and rewrite every outgoing and incoming message
// by implementing the Extension interface and registering with
// WithExtension or UseExtension:
//
//	type exampleExtension struct{ bayeux.NoopExtension }
//
//	func (e *exampleExtension) Outgoing(m *bayeux.Message) *bayeux.Message {
//		m.GetExt(true)["example"] = true
//		return m
//	}
//
//	client.UseExtension(&exampleExtension{})
//
// A custom http.RoundTripper can be supplied for servers that require
// request signing or bearer-token authentication, such as Salesforce's
// Streaming API; see the extensions/salesforce subpackage.
package bayeux
