// Package buffer provides a thread-safe growable FIFO for streaming data.
//
// Buffer is written by a producer that must never wait (an audio driver
// callback, a socket reader) and drained by a single consumer in fixed-size
// runs. CloseWrite ends the stream while pending data can still be taken.
//
// Example usage:
//
//	buf := buffer.N[float32](48000)
//
//	// Producer
//	buf.Write(samples)
//
//	// Consumer
//	for {
//	    seg, ok := buf.Take(28800)
//	    if !ok {
//	        <-buf.Notify()
//	        continue
//	    }
//	    process(seg)
//	}
package buffer
