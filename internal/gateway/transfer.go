package gateway

import (
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/horgh/minbif/internal/dcc"
	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
	"github.com/horgh/minbif/internal/metrics"
)

// Directories under the user path.
const (
	uploadDir   = "upload"
	downloadDir = "downloads"
	iconDir     = "icons"
)

func size(n int64) string {
	if n < 0 {
		n = 0
	}
	return bytefmt.ByteSize(uint64(n))
}

// dccConfig is the DCC configuration with our own address filled in from
// the client connection when none is configured.
func (s *Session) dccConfig() dcc.Config {
	cfg := s.config().DCCConfig
	if cfg.OwnIP == nil && cfg.ListenIP == nil {
		cfg.OwnIP = s.conn.LocalIP()
	}
	return cfg
}

// receiveOffer handles a DCC SEND the client sent to a buddy: we fetch the
// file and pass it to the backend.
func (s *Session) receiveOffer(n *Nick, text string) {
	offer, err := dcc.ParseSend(text)
	if err != nil {
		// Not an offer. Relay it as it is.
		s.queueLine(n, text)
		return
	}

	if !s.config().transfersEnabled() {
		s.notice("File transfers are disabled on this server")
		return
	}

	if n.kind != BuddyNick && n.kind != UnknownBuddyNick {
		s.notice("Unable to send files to " + n.nick)
		return
	}

	dir := filepath.Join(s.im.UserPath(), uploadDir)
	t, err := dcc.Get(offer, n.nick, dir, "", func(t *dcc.Transfer,
		err error) {
		s.enqueue(func() { s.uploadDone(n, t, err) })
	})
	if err != nil {
		s.notice("Unable to receive " + offer.Filename + ": " + err.Error())
		return
	}

	s.transfers[t.ID] = t
	s.log.Infof("Receiving %s (%s) for %s", offer.Filename, size(offer.Size),
		n.nick)
}

// uploadDone runs when we have the whole file from the client.
func (s *Session) uploadDone(n *Nick, t *dcc.Transfer, err error) {
	delete(s.transfers, t.ID)
	metrics.TransferBytes.Add(float64(t.Transferred()))

	if err != nil {
		metrics.Transfers.WithLabelValues("from_client", "failed").Inc()
		s.notice("Transfer of " + t.Filename + " failed: " + err.Error())
		return
	}
	metrics.Transfers.WithLabelValues("from_client", "done").Inc()

	if s.nick(n.nick) != n {
		s.notice("Unable to send " + t.Filename + ": " + n.nick + " is gone")
		return
	}

	if err := s.im.SendFile(n.account, n.imName(), t.Path); err != nil {
		s.notice("Unable to send " + t.Filename + " to " + n.nick + ": " +
			err.Error())
		return
	}
	s.notice("Sending " + t.Filename + " (" + size(t.Transferred()) +
		") to " + n.nick)
}

// receiveIcon handles a DCC SEND the client sent to the buddyicon nick: we
// fetch the image and make it the icon of every account.
func (s *Session) receiveIcon(text string) {
	offer, err := dcc.ParseSend(text)
	if err != nil {
		s.log.Debugf("Dropping non DCC SEND to %s", s.iconNick.nick)
		return
	}

	dir := filepath.Join(s.im.UserPath(), iconDir)
	t, err := dcc.Get(offer, s.user.nick, dir, "", func(t *dcc.Transfer,
		err error) {
		s.enqueue(func() { s.iconDone(t, err) })
	})
	if err != nil {
		s.log.Errorf("Unable to write into the buddy icon directory %s: %s", dir,
			err)
		s.notice("Unable to receive " + offer.Filename + ": " + err.Error())
		return
	}

	s.transfers[t.ID] = t
	s.log.Infof("Receiving buddy icon %s (%s)", offer.Filename, size(offer.Size))
}

// iconDone runs when we have the whole icon from the client.
func (s *Session) iconDone(t *dcc.Transfer, err error) {
	delete(s.transfers, t.ID)
	metrics.TransferBytes.Add(float64(t.Transferred()))

	if err != nil {
		metrics.Transfers.WithLabelValues("from_client", "failed").Inc()
		s.notice("Transfer of " + t.Filename + " failed: " + err.Error())
		return
	}
	metrics.Transfers.WithLabelValues("from_client", "done").Inc()

	if err := s.im.SetIcon(t.Path); err != nil {
		s.notice("Unable to set your icon: " + err.Error())
		return
	}
	s.notice("New icon set!")
}

// fileRequested decides on a file a buddy wants to send us.
func (s *Session) fileRequested(tr im.Transfer) {
	if !s.config().transfersEnabled() {
		if err := s.im.CancelTransfer(tr.ID); err != nil {
			s.log.Debugf("Unable to refuse transfer %s: %s", tr.ID, err)
		}
		s.notice("Refused " + tr.Filename + " from " + tr.Buddy +
			": file transfers are disabled")
		return
	}

	name := filepath.Base(tr.Filename)
	if name == "." || name == "/" {
		name = tr.ID
	}
	path := filepath.Join(s.im.UserPath(), downloadDir, name)
	if err := s.im.AcceptTransfer(tr.ID, path); err != nil {
		s.notice("Unable to accept " + tr.Filename + ": " + err.Error())
		return
	}
	s.notice("Receiving " + tr.Filename + " (" + size(tr.Size) + ") from " +
		tr.Buddy)
}

// fileReceived offers a file the backend received to the client.
func (s *Session) fileReceived(tr im.Transfer) {
	from := message.Entity(message.Raw("some.one"))
	if n := s.buddyNick(tr.Account, tr.Buddy); n != nil {
		from = n
	}

	t, offer, err := dcc.SendFile(s.dccConfig(), s.user.nick, tr.Path,
		func(t *dcc.Transfer, err error) {
			s.enqueue(func() { s.downloadDone(t, err) })
		})
	if err != nil {
		s.notice("Unable to offer " + tr.Filename + ": " + err.Error())
		return
	}
	s.transfers[t.ID] = t

	s.user.Send(message.New("PRIVMSG").SetSender(from).SetReceiver(s.user).
		Add(offer.String()))
	s.notice("Offering " + tr.Filename + " (" + size(t.Size) + ")")
}

// downloadDone runs when the client has the file or gave up.
func (s *Session) downloadDone(t *dcc.Transfer, err error) {
	delete(s.transfers, t.ID)
	metrics.TransferBytes.Add(float64(t.Transferred()))

	if err != nil {
		metrics.Transfers.WithLabelValues("to_client", "failed").Inc()
		s.notice("Transfer of " + t.Filename + " failed: " + err.Error())
		return
	}
	metrics.Transfers.WithLabelValues("to_client", "done").Inc()
	s.notice("Transfer of " + t.Filename + " complete (" +
		size(t.Transferred()) + ")")
}
