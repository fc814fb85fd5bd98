package gateway

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/mask"
	"github.com/horgh/minbif/internal/message"
)

var infoText = []string{
	"Minbif - IRC instant messaging gateway",
	"",
	"Each IRC connection is bridged to one identity. Every IM account of",
	"the identity shows up as a server, buddies as users on status",
	"channels, and chats as #channel:account channels.",
	"",
	"Use /MAP to manage accounts and /ADMIN to change settings.",
}

// VERSION
func (s *Session) versionCommand(m *message.Message) {
	config := s.config()
	// 351 RPL_VERSION
	s.reply("351", config.Version, config.ServerName, "minbif-go")
}

// INFO
func (s *Session) infoCommand(m *message.Message) {
	for _, line := range infoText {
		if line == "" {
			line = " "
		}
		// 371 RPL_INFO
		s.reply("371", line)
	}
	// 374 RPL_ENDOFINFO
	s.reply("374", "End of /INFO list.")
}

// MOTD
func (s *Session) motdCommand(m *message.Message) {
	s.sendMOTD()
}

func (s *Session) sendMOTD() {
	config := s.config()

	// 375 RPL_MOTDSTART
	s.reply("375", "- "+config.ServerName+" Message Of The Day -")
	for _, line := range config.MOTD {
		// 372 RPL_MOTD
		s.reply("372", "- "+line)
	}
	// 376 RPL_ENDOFMOTD
	s.reply("376", "End of /MOTD command.")
}

// sortedNicks returns the registered nicks ordered by key.
func (s *Session) sortedNicks() []*Nick {
	keys := make([]string, 0, len(s.nicks))
	for k := range s.nicks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nicks := make([]*Nick, 0, len(keys))
	for _, k := range keys {
		nicks = append(nicks, s.nicks[k])
	}
	return nicks
}

// WHO [mask] [+s]
//
// Mask matches nicks by glob, or server names by substring. A channel name
// lists its members. Flag s shows status messages instead of real names.
func (s *Session) whoCommand(m *message.Message) {
	arg := ""
	showStatus := false
	for _, a := range m.Args() {
		if a == "" || (a[0] != '+' && a[0] != '-') {
			arg = a
			continue
		}
		add := true
		for _, c := range a {
			switch c {
			case '+':
				add = true
			case '-':
				add = false
			case 's':
				showStatus = add
			}
		}
	}

	var channel *Channel
	if IsChanName(arg) {
		channel = s.channel(arg)
	}

	if arg == "" || !IsChanName(arg) || channel != nil {
		for _, n := range s.sortedNicks() {
			chanName := "*"
			if arg == "" || arg == "*" || arg == "0" ||
				strings.Contains(n.server.name, arg) || mask.Match(arg, n.nick) {
				if chans := n.Channels(); len(chans) > 0 {
					chanName = chans[0].name
				}
			} else if channel != nil {
				if !n.IsOn(channel) {
					continue
				}
				chanName = channel.name
			} else {
				continue
			}

			info := n.RealName()
			if showStatus {
				info = n.StatusMessage()
			}
			here := "H"
			if n.IsAway() {
				here = "G"
			}
			// 352 RPL_WHOREPLY
			s.reply("352", chanName, n.ident, n.host, n.server.name, n.nick, here,
				"0 "+info)
		}
	}

	if arg == "" {
		arg = "**"
	}
	// 315 RPL_ENDOFWHO
	s.reply("315", arg, "End of /WHO list")
}

// WHOIS nick [extended]
func (s *Session) whoisCommand(m *message.Message) {
	n := s.nick(m.Arg(0))
	if n == nil {
		// 401 ERR_NOSUCHNICK
		s.reply("401", m.Arg(0), "Nick does not exist")
		return
	}
	extended := m.CountArgs() > 1

	// 311 RPL_WHOISUSER
	s.reply("311", n.nick, n.ident, n.host, "*", n.RealName())

	var chans []string
	for _, c := range n.Channels() {
		chans = append(chans, c.name)
	}
	if len(chans) > 0 {
		// 319 RPL_WHOISCHANNELS
		s.reply("319", n.nick, strings.Join(chans, " "))
	}

	// 312 RPL_WHOISSERVER
	s.reply("312", n.nick, n.server.name, n.server.info)

	if n.IsAway() {
		// 301 RPL_AWAY
		s.reply("301", n.nick, n.AwayMessage())
	}

	if status := n.StatusMessage(); status != "" {
		// 338 RPL_WHOISACTUALLY
		s.reply("338", n.nick, status)
	}

	if n.HasFlag(FlagOper) {
		// 313 RPL_WHOISOPERATOR
		s.reply("313", n.nick, "is an IRC Operator")
	}

	if n.isPeer() {
		s.whoisIcon(n)
	}

	if !extended || !n.RetrieveInfo() {
		// 318 RPL_ENDOFWHOIS
		s.reply("318", n.nick, "End of /WHOIS list")
	}
}

// whoisIcon describes the buddy icon and, when icons are published, its
// URL.
func (s *Session) whoisIcon(n *Nick) {
	icon := n.Icon()
	if len(icon) == 0 {
		// 338 RPL_WHOISACTUALLY
		s.reply("338", n.nick, "No icon")
		return
	}
	s.reply("338", n.nick, "Icon: "+
		bytefmt.ByteSize(uint64(len(icon))))

	url := s.config().BuddyIconsURL
	if url == "" {
		return
	}
	rel, err := s.saveIcon(n, icon)
	if err != nil {
		s.log.Debugf("Unable to save icon of %s: %s", n.nick, err)
		return
	}
	s.reply("338", n.nick, "Icon URL: "+url+s.im.Username()+"/"+rel)
}

// saveIcon writes the icon under the user directory and returns its path
// relative to it.
func (s *Session) saveIcon(n *Nick, icon []byte) (string, error) {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, n.imName())
	rel := filepath.Join("icons", n.account, name)

	path := filepath.Join(s.im.UserPath(), rel)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(path, icon, 0600); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// WHOWAS nick
func (s *Session) whowasCommand(m *message.Message) {
	// 406 ERR_WASNOSUCHNICK
	s.reply("406", m.Arg(0), "Nick does not exist")
	// 369 RPL_ENDOFWHOWAS
	s.reply("369", m.Arg(0), "End of WHOWAS")
}

// ISON nick [nick...]
func (s *Session) isonCommand(m *message.Message) {
	var online []string
	for _, arg := range m.Args() {
		for _, name := range strings.Fields(arg) {
			if n := s.nick(name); n != nil && n.IsOnline() {
				online = append(online, n.nick)
			}
		}
	}
	// 303 RPL_ISON
	s.reply("303", strings.Join(online, " "))
}

// STATS [letter] [arg]
func (s *Session) statsCommand(m *message.Message) {
	arg := "*"
	if m.CountArgs() > 0 && m.Arg(0) != "" {
		arg = m.Arg(0)
	}

	switch arg[0] {
	case 'a':
		for _, st := range s.im.Statuses() {
			s.notice(st[0] + ": " + st[1])
		}
	case 'c':
		accid := m.Arg(1)
		account, err := s.im.Account(accid)
		if accid == "" {
			accid = "*"
		}
		if err != nil || account.State != im.Connected {
			// 403 ERR_NOSUCHCHANNEL
			s.reply("403", accid, "No such account")
			break
		}
		params := s.im.ChatParameters(accid)
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.notice(k + " = " + params[k])
		}
	case 'm':
		for _, c := range commands {
			// 212 RPL_STATSCOMMANDS
			s.reply("212", c.name, strconv.Itoa(s.counts[c.name]), "0")
		}
	case 'o':
		logins := make([]string, 0, len(s.config().Opers))
		for login := range s.config().Opers {
			logins = append(logins, login)
		}
		sort.Strings(logins)
		for _, login := range logins {
			email := s.config().Opers[login].Email
			if email == "" {
				email = "*"
			}
			// 243 RPL_STATSOLINE
			s.reply("243", "O", email, "*", login)
		}
	case 'p':
		for _, p := range s.im.Protocols() {
			s.notice(p.ID + ": " + p.Name)
		}
	case 'u':
		// 242 RPL_STATSUPTIME
		s.reply("242", uptime(time.Since(s.hub.Started())))
	default:
		arg = "*"
		s.notice("a (aways) - List all away messages availables")
		s.notice("c (chat params) - List all chat parameters for a specific account")
		s.notice("m (commands) - List all IRC commands")
		s.notice("o (opers) - List all opers accounts")
		s.notice("p (protocols) - List all protocols")
		s.notice("u (uptime) - Display the server uptime")
	}

	// 219 RPL_ENDOFSTATS
	s.reply("219", arg, "End of /STATS report")
}

func uptime(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("Server Up %d days, %d:%02d:%02d", secs/86400,
		(secs/3600)%24, (secs/60)%60, secs%60)
}
