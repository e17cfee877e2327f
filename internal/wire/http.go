package wire

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// HTTPConnectOK is the substring a CONNECT status line must contain for the
// tunnel to be considered established.
const HTTPConnectOK = "HTTP/1.1 200"

// Base64 encodes s with the standard RFC 4648 alphabet and padding.
func Base64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// BasicAuth returns the value of a Basic Authorization header.
func BasicAuth(username, password string) string {
	return "Basic " + Base64(username+":"+password)
}

// EncodeHTTPConnect returns a CONNECT request for host:port. When username is
// non-empty both Authorization and Proxy-Authorization carry Basic
// credentials.
//
//	CONNECT host:port HTTP/1.1\r\n
//	Host: host:port\r\n
//	[Authorization: Basic ...\r\n]
//	[Proxy-Authorization: Basic ...\r\n]
//	\r\n
func EncodeHTTPConnect(host string, port uint16, username, password string) ([]byte, error) {
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))

	req := &http.Request{
		Method:     http.MethodConnect,
		URL:        &url.URL{Opaque: address},
		Host:       address,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		// An empty User-Agent suppresses the Go default.
		Header: http.Header{"User-Agent": {""}},
	}
	if username != "" {
		auth := BasicAuth(username, password)
		req.Header.Set("Authorization", auth)
		req.Header.Set("Proxy-Authorization", auth)
	}

	var buf bytes.Buffer
	if err := req.Write(&buf); err != nil {
		return nil, fmt.Errorf("http connect request: %w", err)
	}
	return buf.Bytes(), nil
}

// HTTPConnectGranted reports whether statusLine signals an established tunnel.
func HTTPConnectGranted(statusLine string) bool {
	return strings.Contains(statusLine, HTTPConnectOK)
}

// HTTPStatusCode extracts the numeric status from a status line, or 0.
func HTTPStatusCode(statusLine string) int {
	_, rest, ok := strings.Cut(statusLine, " ")
	if !ok {
		return 0
	}
	code, _, _ := strings.Cut(rest, " ")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

// ReadHTTPConnectResponse reads the status line and the header block of a
// CONNECT response, leaving any bytes after the blank line in br. Only the
// status line is interpreted.
func ReadHTTPConnectResponse(br *bufio.Reader) (string, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return "", fmt.Errorf("http connect status line: %w", err)
	}
	if line == "" {
		return "", fmt.Errorf("http connect status line: %w: empty", ErrShortFrame)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		return line, fmt.Errorf("http connect headers: %w", err)
	}
	return line, nil
}
