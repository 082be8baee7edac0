package httppoll

import (
	"fmt"
	"net"
)

func newListener(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httppoll: listen %s: %w", addr, err)
	}
	return ln, nil
}
