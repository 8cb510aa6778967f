// Package protocol implements the Rockchip bootloader USB command protocol.
//
// This package handles encoding, decoding and validation of the frames
// exchanged with RK3066/RK3188 class devices over their bulk endpoints. The
// protocol is a mass-storage style request/response exchange:
//
//  1. The host writes a 31-byte Command Block Wrapper ("USBC") to the OUT
//     endpoint.
//  2. Data moves in sector units (512 bytes): the host writes the payload
//     for OpWriteLBA, or reads count*512 bytes for OpReadLBA.
//  3. The device answers with a 13-byte Command Status Wrapper ("USBS").
//
// OpReset is the exception: the device drops off the bus instead of
// answering.
//
// # Usage Example - Reading Sectors
//
//	var tags protocol.TagGenerator
//	cmd, err := protocol.NewReadLBA(tags.Next(), 0x2000, 32)
//	if err != nil {
//	    return err
//	}
//	conn.BulkWrite(ctx, cmd.Marshal(), timeout)
//	data, _ := conn.BulkRead(ctx, cmd.DataLength(), timeout)
//	if err := protocol.CheckTransfer(int(cmd.Count), data); err != nil {
//	    return err
//	}
//	raw, _ := conn.BulkRead(ctx, protocol.StatusSize, timeout)
//	if _, err := protocol.CheckStatus(cmd, raw); err != nil {
//	    return err
//	}
//
// # Errors
//
// Decoding failures are reported as *flasherr.Error values:
// ErrTypeMalformedFrame for wrong sizes or signatures, ErrTypeShortTransfer
// for data phases of the wrong length, ErrTypeInvalidPayloadSize for writes
// that are not sector aligned, and ErrTypeCommandFailed for non-zero status.
//
// # Thread Safety
//
// Commands and statuses are plain values. TagGenerator is safe for
// concurrent use.
package protocol
