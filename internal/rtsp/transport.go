package rtsp

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Attempts at binding an even/odd port pair before giving up.
const portPairAttempts = 20

// Transport is the UDP port pair negotiated for one stream by SETUP.
type Transport struct {
	RTP  *net.UDPConn
	RTCP *net.UDPConn

	// Synchronization source announced by the server, or zero.
	SSRC uint32
	Mode string

	// Session timeout in seconds announced by the server, or zero.
	Timeout int
}

// NewTransport binds a local RTP port and the RTCP port above it.
func NewTransport() (*Transport, error) {
	rtp, rtcp, err := bindUDPPair()
	if err != nil {
		return nil, err
	}
	return &Transport{RTP: rtp, RTCP: rtcp}, nil
}

func (tr *Transport) Close() error {
	for _, c := range []*net.UDPConn{tr.RTP, tr.RTCP} {
		if c != nil {
			c.Close()
		}
	}
	return nil
}

// ClientHeader is the Transport header value of a SETUP request.
func (tr *Transport) ClientHeader() string {
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", getPort(tr.RTP.LocalAddr()), getPort(tr.RTCP.LocalAddr()))
}

// Header describes the negotiated transport, in Transport header syntax.
func (tr *Transport) Header() string {
	var b strings.Builder
	b.WriteString(tr.ClientHeader())
	if p, q := getPort(tr.RTP.RemoteAddr()), getPort(tr.RTCP.RemoteAddr()); p > 0 && q > 0 {
		fmt.Fprintf(&b, ";server_port=%d-%d", p, q)
	}
	if tr.SSRC != 0 {
		fmt.Fprintf(&b, ";ssrc=%08X", tr.SSRC)
	}
	if tr.Mode != "" {
		b.WriteString(";mode=" + tr.Mode)
	}
	return b.String()
}

// The parts of a server's Transport header this client uses.
// See https://tools.ietf.org/html/rfc2326#section-12.39
type serverTransport struct {
	source   string
	rtpPort  int
	rtcpPort int
	ssrc     uint32
	mode     string
}

func parseTransportHeader(header string) (serverTransport, error) {
	var st serverTransport
	proto, rest := split2(header, ';')
	switch strings.ToUpper(strings.TrimSpace(proto)) {
	case "RTP/AVP", "RTP/AVP/UDP":
	default:
		return st, errors.Errorf("unsupported transport protocol: %s", proto)
	}

	params := parseParams(rest)
	if _, ok := params["unicast"]; !ok {
		return st, errors.Errorf("expected unicast: %s", header)
	}
	st.source = params["source"]
	st.mode = strings.ToUpper(strings.Trim(params["mode"], `"`))

	if ports, ok := params["server_port"]; ok {
		lo, hi := split2(ports, '-')
		var err1, err2 error
		st.rtpPort, err1 = strconv.Atoi(lo)
		st.rtcpPort, err2 = strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return st, errors.Errorf("invalid server_port value: %s", ports)
		}
	}
	if ssrc, ok := params["ssrc"]; ok {
		v, err := strconv.ParseUint(strings.TrimSpace(ssrc), 16, 32)
		if err != nil {
			return st, errors.Errorf("invalid ssrc value: %s", ssrc)
		}
		st.ssrc = uint32(v)
	}
	return st, nil
}

// Apply the server's Transport header. When server ports are given, the
// local sockets are connected to them, so the kernel drops datagrams from
// other peers.
func (tr *Transport) parseServerResponse(header string, serverIP net.IP) error {
	st, err := parseTransportHeader(header)
	if err != nil {
		return err
	}
	tr.SSRC = st.ssrc
	tr.Mode = st.mode
	if st.rtpPort == 0 {
		return nil
	}

	host := st.source
	if host == "" {
		host = serverIP.String()
	}
	if tr.RTP, err = connectUDP(tr.RTP, host, st.rtpPort); err != nil {
		return err
	}
	if tr.RTCP, err = connectUDP(tr.RTCP, host, st.rtcpPort); err != nil {
		return err
	}
	return nil
}

// Replace a listening socket by one bound to the same local address and
// connected to host:port.
func connectUDP(c *net.UDPConn, host string, port int) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	laddr := c.LocalAddr().(*net.UDPAddr)
	c.Close()
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %v to %v", laddr, raddr)
	}
	return conn, nil
}

// RTP uses an even port and RTCP the odd port above it.
// See https://tools.ietf.org/html/rfc3550#section-11
func bindUDPPair() (rtp, rtcp *net.UDPConn, err error) {
	for i := 0; i < portPairAttempts; i++ {
		if rtp, rtcp, err = tryBindUDPPair(); err == nil {
			return rtp, rtcp, nil
		}
	}
	return nil, nil, errors.Wrap(err, "failed to bind even/odd port pair")
}

// Let the kernel pick a port, then claim its partner.
func tryBindUDPPair() (rtp, rtcp *net.UDPConn, err error) {
	first, err := net.ListenUDP("udp4", new(net.UDPAddr))
	if err != nil {
		return nil, nil, err
	}
	partner := *first.LocalAddr().(*net.UDPAddr)
	partner.Port ^= 1

	second, err := net.ListenUDP("udp4", &partner)
	if err != nil {
		first.Close()
		return nil, nil, err
	}
	if partner.Port%2 == 1 {
		return first, second, nil
	}
	return second, first, nil
}

func getPort(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.Port
	case *net.TCPAddr:
		return a.Port
	}
	return 0
}
