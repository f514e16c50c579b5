// Package rtsp negotiates live RTP streams with an RTSP 1.0 server and
// receives their packets.
package rtsp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/logging"
)

var log = logging.DefaultLogger.WithTag("rtsp")

const userAgent = "rtspsource"

// RTSP 1.0 client implementation.
// See [RFC 2326](https://tools.ietf.org/html/rfc2326).
type Client struct {
	// TCP connection to the RTSP server.
	conn net.Conn
	br   *bufio.Reader

	// Monotonically increasing request sequence number.
	cseq int

	sync.Mutex
}

func Dial(address string) (*Client, error) {
	return DialContext(context.Background(), address)
}

func DialContext(ctx context.Context, address string) (*Client, error) {
	// Connect to RTSP server.
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp4", address)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", address)
	}
	return NewClient(conn), nil
}

// NewClient speaks RTSP over an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		br:   bufio.NewReader(conn),
	}
}

func (cli *Client) Close() error {
	return cli.conn.Close()
}

type HeaderMap map[string]string

type Response struct {
	Status  int
	Reason  string
	Headers HeaderMap
	Content []byte
}

type RequestFailure struct {
	Method string
	URI    string
	Status int
	Reason string
}

func (f *RequestFailure) Error() string {
	return fmt.Sprintf("RTSP request failure: %s %s => %d %s", f.Method, f.URI, f.Status, f.Reason)
}

// Sends a request to the RTSP server, and parses the response.
func (cli *Client) Request(method, uri string, headers HeaderMap) (*Response, error) {
	cli.Lock()
	defer cli.Unlock()

	cli.cseq++

	buf := &bytes.Buffer{}

	// RTSP request line, e.g. "DESCRIBE rtsp://127.0.0.1:554/foo RTSP/1.0\r\n"
	fmt.Fprintf(buf, "%s %s RTSP/1.0\r\n", method, uri)

	// Mandatory CSeq header.
	fmt.Fprintf(buf, "CSeq: %d\r\n", cli.cseq)
	fmt.Fprintf(buf, "User-Agent: %s\r\n", userAgent)

	// Request-specific headers, in a stable order.
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(buf, "%s: %s\r\n", name, headers[name])
	}

	// Terminating CLRF.
	buf.WriteString("\r\n")

	log.Debug("%s %s (CSeq %d)", method, uri, cli.cseq)
	if _, err := cli.conn.Write(buf.Bytes()); err != nil {
		return nil, errors.Wrapf(err, "send %s", method)
	}

	resp, err := readResponse(cli.br)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", method)
	}
	if cseq := resp.Headers["CSeq"]; cseq != "" && cseq != strconv.Itoa(cli.cseq) {
		return nil, errors.Errorf("%s response has CSeq %s, expected %d", method, cseq, cli.cseq)
	}

	// TODO: Automatically handle redirects.
	if resp.Status >= 400 {
		return nil, &RequestFailure{method, uri, resp.Status, resp.Reason}
	}
	return resp, nil
}

func readResponse(br *bufio.Reader) (*Response, error) {
	resp := &Response{
		Headers: make(HeaderMap),
	}
	contentLength := 0

	// Read response one line at a time.
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if resp.Status == 0 {
			// Parse RTSP status line.
			if _, err = fmt.Sscanf(line, "RTSP/1.0 %3d", &resp.Status); err != nil {
				return nil, errors.Errorf("invalid RTSP status line: %q", line)
			}
			if len(line) > 12 {
				resp.Reason = strings.TrimSpace(line[12:])
			}
		} else if line == "" {
			// Empty line indicates end of response headers.
			break
		} else {
			// Parse response header.
			if strings.IndexByte(line, ':') < 0 {
				return nil, errors.Errorf("invalid RTSP header: %q", line)
			}
			name, value := split2(line, ':')
			name = canonicalHeader(strings.TrimSpace(name))
			value = strings.TrimSpace(value)
			resp.Headers[name] = value
			if name == "Content-Length" {
				contentLength, _ = strconv.Atoi(value)
			}
		}
	}

	if contentLength > 0 {
		resp.Content = make([]byte, contentLength)
		if _, err := io.ReadFull(br, resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Servers disagree on header case, e.g. "Cseq" or "content-base".
func canonicalHeader(name string) string {
	switch strings.ToLower(name) {
	case "cseq":
		return "CSeq"
	case "rtp-info":
		return "RTP-Info"
	case "www-authenticate":
		return "WWW-Authenticate"
	}
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// Send an OPTIONS request, and parse the response from the Public header.
func (cli *Client) Options(uri string) ([]string, error) {
	if uri == "" {
		uri = "*"
	}
	resp, err := cli.Request("OPTIONS", uri, nil)
	if err != nil {
		return nil, err
	}

	// See https://tools.ietf.org/html/rfc2068#section-14.35
	var options []string
	for _, o := range strings.Split(resp.Headers["Public"], ",") {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	return options, nil
}

// Send a DESCRIBE request, and parse the SDP response. Relative control URLs
// are resolved against Content-Base, or else against uri.
func (cli *Client) Describe(uri string) (*Description, error) {
	resp, err := cli.Request("DESCRIBE", uri, HeaderMap{
		"Accept": "application/sdp",
	})
	if err != nil {
		return nil, err
	}

	base := resp.Headers["Content-Base"]
	if base == "" {
		base = resp.Headers["Content-Location"]
	}
	if base == "" {
		base = uri
	}
	return ParseDescription(base, resp.Content)
}

// Send a SETUP request, and return the established transport and session ID.
// See https://tools.ietf.org/html/rfc2326#section-10.4
func (cli *Client) Setup(uri, session string) (*Transport, string, error) {
	tr, err := NewTransport()
	if err != nil {
		return nil, "", err
	}

	headers := HeaderMap{
		"Transport": tr.ClientHeader(),
	}
	if session != "" {
		headers["Session"] = session
	}
	resp, err := cli.Request("SETUP", uri, headers)
	if err != nil {
		tr.Close()
		return nil, "", err
	}

	serverIP := net.IPv4(127, 0, 0, 1)
	if addr, ok := cli.conn.RemoteAddr().(*net.TCPAddr); ok {
		serverIP = addr.IP
	}
	if err := tr.parseServerResponse(resp.Headers["Transport"], serverIP); err != nil {
		tr.Close()
		return nil, "", err
	}

	// See https://tools.ietf.org/html/rfc2326#section-12.37
	id, params := split2(resp.Headers["Session"], ';')
	if timeout, ok := parseParams(params)["timeout"]; ok {
		tr.Timeout, _ = strconv.Atoi(timeout)
	}
	return tr, strings.TrimSpace(id), nil
}

// See https://tools.ietf.org/html/rfc2326#section-10.5
func (cli *Client) Play(uri, session string) (rtpInfo string, err error) {
	resp, err := cli.Request("PLAY", uri, HeaderMap{
		"Session": session,
		"Range":   "npt=0.000-",
	})
	if err != nil {
		return
	}

	rtpInfo = resp.Headers["RTP-Info"]
	return
}

// Send a PAUSE request.
// See https://tools.ietf.org/html/rfc2326#section-10.6
func (cli *Client) Pause(uri, session string) error {
	_, err := cli.Request("PAUSE", uri, HeaderMap{
		"Session": session,
	})
	return err
}

// Send a TEARDOWN request.
// See https://tools.ietf.org/html/rfc2326#section-10.7
func (cli *Client) Teardown(uri, session string) error {
	_, err := cli.Request("TEARDOWN", uri, HeaderMap{
		"Session": session,
	})
	return err
}

// Send an empty GET_PARAMETER request, which servers treat as a keep-alive.
// See https://tools.ietf.org/html/rfc2326#section-10.8
func (cli *Client) GetParameter(uri, session string) (string, error) {
	resp, err := cli.Request("GET_PARAMETER", uri, HeaderMap{
		"Session": session,
	})
	if err != nil {
		return "", err
	}

	return string(resp.Content), nil
}

// ParseURL validates an rtsp:// URL and adds the default port.
func ParseURL(rawurl string) (*url.URL, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrap(err, "invalid RTSP URL")
	}

	if u.Scheme != "rtsp" {
		return nil, errors.New("invalid RTSP URL: " + rawurl)
	}

	if u.Port() == "" {
		// Add default RTSP port to the host.
		u.Host += ":554"
	}

	return u, nil
}

// Split a string into 2 parts, separated by c.
func split2(s string, c byte) (string, string) {
	i := strings.IndexByte(s, c)
	if i < 0 {
		return s, ""
	}
	return s[0:i], s[i+1:]
}

// Parse ';'-separated name=value parameters. Names without a value map to "".
func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		name, value := split2(p, '=')
		params[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return params
}
