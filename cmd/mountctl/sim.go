package main

import "os"

// stdioChannel speaks the protocol on stdin/stdout so the controller
// can be driven by hand or by the host software over a pipe. Stdin is
// pumped by a goroutine into a buffered channel so the control loop's
// polled reads never block.
type stdioChannel struct {
	data chan []byte
	rest []byte
	done chan struct{}
}

func newStdioChannel() *stdioChannel {
	c := &stdioChannel{
		data: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *stdioChannel) pump() {
	for {
		buf := make([]byte, 256)
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			select {
			case c.data <- buf[:n]:
			case <-c.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Read returns pending input without blocking; (0, nil) when idle.
func (c *stdioChannel) Read(buf []byte) (int, error) {
	if len(c.rest) == 0 {
		select {
		case chunk, ok := <-c.data:
			if !ok {
				return 0, nil
			}
			c.rest = chunk
		default:
			return 0, nil
		}
	}
	n := copy(buf, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *stdioChannel) Write(buf []byte) (int, error) {
	return os.Stdout.Write(buf)
}

func (c *stdioChannel) Flush() error { return nil }

func (c *stdioChannel) Close() error {
	close(c.done)
	return nil
}
