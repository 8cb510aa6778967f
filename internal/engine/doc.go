// Package engine runs partition workflows (flash, backup, erase and
// compare) on a connected device.
//
// Each workflow resolves its partition in the device catalog, checks sizes
// before touching the device, and then moves the range chunk by chunk.
// Progress is reported to a Sink as Started, Progress and Finished events;
// the Finished event carries the Result.
//
// Cancellation is honoured between chunks. A chunk already sent always
// completes, so a cancelled flash leaves whole chunks on the device and is
// reported as Partial.
//
// Example:
//
//	sess, err := session.Connect(ctx, bus, handle)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	eng := engine.New(sess, engine.WithVerify(true), engine.WithSink(sink))
//	res, err := eng.Flash(ctx, "boot", img, size)
package engine
