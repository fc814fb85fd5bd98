// Package dcc implements DCC SEND file transfers in both directions.
//
// A Send listens and streams a file to the peer that connects. A Get connects
// to an offered address and stores what it receives. Both speak the classic
// flow control: the receiver acknowledges the cumulative byte count as a 4
// byte big-endian integer.
package dcc

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/horgh/minbif/internal/message"
	"github.com/pkg/errors"
)

// ErrNotOffer means the text is not a DCC SEND offer.
var ErrNotOffer = errors.New("not a DCC SEND offer")

// Offer is the out of band invitation to a transfer.
type Offer struct {
	Filename string
	IP       net.IP
	Port     int
	Size     int64
}

// String is the CTCP payload, \x01 delimiters included.
func (o Offer) String() string {
	name := strings.Replace(o.Filename, "\"", "'", -1)
	return fmt.Sprintf("\x01DCC SEND \"%s\" %d %d %d\x01", name, ipToUint32(o.IP),
		o.Port, o.Size)
}

// Addr is the address to connect to.
func (o Offer) Addr() string {
	return net.JoinHostPort(o.IP.String(), strconv.Itoa(o.Port))
}

// ParseSend parses a PRIVMSG text as an offer. The file name may be quoted
// and contain spaces. Anything else returns ErrNotOffer.
func ParseSend(text string) (Offer, error) {
	if len(text) < 2 || text[0] != '\x01' || text[len(text)-1] != '\x01' {
		return Offer{}, ErrNotOffer
	}

	m := message.New("DCC")
	for _, word := range strings.Split(text[1:len(text)-1], " ") {
		if word == "" {
			continue
		}
		m.Add(word)
	}
	m.RebuildWithQuotes()

	// DCC SEND name ip port size
	if m.CountArgs() != 6 || !strings.EqualFold(m.Arg(0), "DCC") ||
		!strings.EqualFold(m.Arg(1), "SEND") {
		return Offer{}, ErrNotOffer
	}

	ip, err := strconv.ParseUint(m.Arg(3), 10, 32)
	if err != nil {
		return Offer{}, ErrNotOffer
	}
	port, err := strconv.Atoi(m.Arg(4))
	if err != nil || port <= 0 || port > 65535 {
		return Offer{}, ErrNotOffer
	}
	size, err := strconv.ParseInt(m.Arg(5), 10, 64)
	if err != nil || size < 0 {
		return Offer{}, ErrNotOffer
	}

	return Offer{
		Filename: m.Arg(2),
		IP:       uint32ToIP(uint32(ip)),
		Port:     port,
		Size:     size,
	}, nil
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
