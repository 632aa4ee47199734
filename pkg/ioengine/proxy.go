package ioengine

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// httpConnect issues an HTTP CONNECT to establish a tunnel through a
// proxy connection already dialed to the proxy's address, covering the
// simple unauthenticated tunnel case.
func httpConnect(conn net.Conn, targetAddr string) error {
	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", targetAddr, targetAddr); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}
	return nil
}
