// Package seriallink speaks the line protocol of the alert microcontroller.
//
// The wire format is ASCII tokens terminated by '\n'. The host probes the
// peer with "ping" until it answers "pong", announces itself with "INIT",
// then sends one of "NONE", "SIREN" or "HORN" per confirmed decision.
// Anything else the peer sends is read and discarded.
//
// A Link moves through the states
//
//	Disconnected -> Connecting -> Handshaking -> Ready
//	                     \              \
//	                      +--------------+-> Faulted
//
// Open or handshake failure leaves the Link Faulted; the host keeps running
// without a peer. A Link is driven by a single goroutine; only State and
// Sent may be called from others.
//
// Example usage:
//
//	link := seriallink.New(seriallink.DefaultConfig())
//	if err := link.Connect(ctx); err != nil {
//	    slog.Warn("no peer", "error", err)
//	}
//	defer link.Close()
//
//	link.DrainUnsolicited()
//	link.Dispatch(seriallink.CmdSiren)
package seriallink
