package testutil

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/txthinking/socks5"
)

const dialTimeout = 2 * time.Second

// ServeSOCKS5 answers one no-auth CONNECT on c with rep. When rep is success
// it dials the requested destination and relays until either side closes.
func ServeSOCKS5(c net.Conn, rep byte) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}
	if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
		return err
	}
	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return fmt.Errorf("unexpected command: %d", req.Cmd)
	}
	if rep != socks5.RepSuccess {
		_, _ = socks5.NewReply(rep, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}

	dst, err := net.DialTimeout("tcp", req.Address(), dialTimeout)
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	a, addr, port, err := socks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == socks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := socks5.NewReply(socks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	relay(c, c, dst)
	return nil
}

// ReadSOCKS4Request reads a SOCKS4 CONNECT including its NUL terminated
// user id and returns the destination as "ip:port".
func ReadSOCKS4Request(r io.Reader) (string, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	if hdr[0] != 0x04 || hdr[1] != 0x01 {
		return "", fmt.Errorf("unexpected socks4 header % x", hdr[:2])
	}
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
	}
	port := binary.BigEndian.Uint16(hdr[2:4])
	ip := net.IPv4(hdr[4], hdr[5], hdr[6], hdr[7])
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port))), nil
}

// ServeSOCKS4 answers one CONNECT on c with cd. When cd is 90 it dials the
// requested destination and relays until either side closes.
func ServeSOCKS4(c net.Conn, cd byte) error {
	addr, err := ReadSOCKS4Request(c)
	if err != nil {
		return err
	}
	reply := []byte{0x00, cd, 0, 0, 0, 0, 0, 0}
	if cd != 90 {
		_, _ = c.Write(reply)
		return nil
	}

	dst, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		reply[1] = 91
		_, _ = c.Write(reply)
		return nil
	}
	defer dst.Close()

	if _, err := c.Write(reply); err != nil {
		return err
	}
	relay(c, c, dst)
	return nil
}

// ServeHTTPConnect reads one CONNECT request from c and answers with status,
// e.g. "200 Connection established". On a 2xx it dials the request's host and
// relays until either side closes. The request is returned for inspection.
func ServeHTTPConnect(c net.Conn, status string) (*http.Request, error) {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, err
	}
	if req.Method != http.MethodConnect {
		return req, fmt.Errorf("unexpected method %q", req.Method)
	}
	if !strings.HasPrefix(status, "2") {
		_, _ = io.WriteString(c, "HTTP/1.1 "+status+"\r\nContent-Length: 0\r\n\r\n")
		return req, nil
	}

	dst, err := net.DialTimeout("tcp", req.Host, dialTimeout)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return req, nil
	}
	defer dst.Close()

	if _, err := io.WriteString(c, "HTTP/1.1 "+status+"\r\n\r\n"); err != nil {
		return req, err
	}
	relay(c, br, dst)
	return req, nil
}

func relay(c net.Conn, r io.Reader, dst net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, r)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	_ = c.Close()
	<-done
}
