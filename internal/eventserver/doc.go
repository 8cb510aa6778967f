// Package eventserver streams engine events to WebSocket clients.
//
// A Server is an engine.Sink. Every event is encoded as a JSON Message and
// queued for each connected client; a client that falls behind is
// disconnected rather than slowing the transfer down. When Advertise is
// set the stream is registered over mDNS as _rkflash._tcp so that
// discovery.Browser can find it.
//
// Example:
//
//	srv := eventserver.New(eventserver.Config{Addr: ":8765", Advertise: true})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
//
//	eng := engine.New(sess, engine.WithSink(srv))
//
// Subscribe is the client side, used by "rkflash monitor".
package eventserver
