package gateway

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/horgh/minbif/internal/im"
	"github.com/horgh/minbif/internal/message"
)

// mapVerbs are matched by prefix in this order, so /MAP a is add and /MAP c
// is command.
var mapVerbs = []struct {
	name string
	fn   func(*Session, *message.Message) bool
}{
	{"register", func(s *Session, m *message.Message) bool {
		return s.mapAdd(m, true)
	}},
	{"add", func(s *Session, m *message.Message) bool {
		return s.mapAdd(m, false)
	}},
	{"edit", (*Session).mapEdit},
	{"delete", (*Session).mapDelete},
	{"command", (*Session).mapCmd},
	{"cmd", (*Session).mapCmd},
	{"help", (*Session).mapHelp},
}

// MAP [verb args...]
//
// Manages accounts. The verbs return whether the account tree should be
// shown afterwards.
func (s *Session) mapCommand(m *message.Message) {
	if m.CountArgs() > 0 {
		verb := strings.ToLower(m.Arg(0))
		found := false
		for _, v := range mapVerbs {
			if verb == "" || !strings.HasPrefix(v.name, verb) {
				continue
			}
			found = true
			if !v.fn(s, m) {
				return
			}
			break
		}
		if !found {
			s.mapHelp(m)
			return
		}
	}

	s.showMap()
	s.justAdded = ""
}

// showMap lists the accounts as a tree below our server.
func (s *Session) showMap() {
	// 015 RPL_MAP
	s.reply("015", s.server.name)

	accounts := s.im.Accounts()
	for i, account := range accounts {
		line := "|"
		if i == len(accounts)-1 {
			line = "`"
		}

		switch {
		case account.ID == s.justAdded:
			line += "-+"
		case account.State == im.Connecting:
			line += "-*"
		case account.State == im.Connected:
			line += "-"
		default:
			line += " "
		}

		line += account.ServerName()

		if srv := s.accountServers[account.ID]; srv != nil &&
			account.State == im.Connected {
			line += "  [" + strconv.Itoa(srv.CountOnlineNicks()) + "/" +
				strconv.Itoa(srv.CountNicks()) + "]"
		}
		s.reply("015", line)
	}
	// 017 RPL_MAPEND
	s.reply("017", "End of /MAP")
}

// mapUsage is the usage line of /MAP add for a protocol.
func mapUsage(p im.Protocol) string {
	var usage []string
	for _, o := range p.Options {
		usage = append(usage, o.Usage())
	}
	return "Usage: /MAP add " + p.ID + " USERNAME " + strings.Join(usage, " ")
}

// /MAP add|register PROTO USERNAME [PASSWORD [CHANNEL]] [-opt value] [-[!]bool]
func (s *Session) mapAdd(m *message.Message, register bool) bool {
	if m.CountArgs() < 2 {
		s.notice("Usage: /MAP add PROTO USERNAME [OPTIONS]")
		s.notice("To display available options: /MAP add PROTO")
		s.notice("Use '/STATS p' to show all available protocols")
		return false
	}

	p, err := s.im.Protocol(m.Arg(1))
	if err != nil {
		s.notice("Error: Protocol " + m.Arg(1) +
			" is unknown. Try '/STATS p' to list protocols.")
		return false
	}

	// Option values may be quoted to hold spaces.
	m.RebuildWithQuotes()

	opts := p.Options.Clone()
	username := ""
	args := m.Args()
	for i := 2; i < len(args); i++ {
		arg := args[i]

		if username == "" {
			if u, err := url.PathUnescape(arg); err == nil {
				arg = u
			}
			username = arg
			continue
		}

		if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			name := arg[1:]
			value := "true"
			if strings.HasPrefix(name, "!") {
				name = name[1:]
				value = "false"
			}

			o, ok := opts.Get(name)
			if !ok {
				s.notice("Error: Option '" + arg + "' does not exist")
				return false
			}
			if o.Type != im.OptionBool {
				if i+1 >= len(args) {
					s.notice("Error: Option '" + arg + "' needs a value")
					return false
				}
				i++
				value = args[i]
			}
			if err := opts.Set(name, value); err != nil {
				s.notice("Error: " + err.Error())
				return false
			}
			continue
		}

		name := im.OptPassword
		if opts.Value(im.OptPassword) != "" {
			name = im.OptStatusChannel
		}
		if err := opts.Set(name, arg); err != nil {
			s.notice("Error: " + err.Error())
			return false
		}
	}

	if username == "" || missingRequired(opts) {
		s.notice(mapUsage(p))
		return false
	}

	account, err := s.im.AddAccount(p.ID, username, opts, register)
	if err != nil {
		s.notice("Error: " + err.Error())
		return false
	}
	s.log.Infof("Added account %s", account.ID)

	s.justAdded = account.ID
	s.addAccount(account)
	if c := s.channel(account.StatusChannel()); c != nil {
		s.user.Join(c, StatusOp)
	}
	if account.AutoConnect() {
		if err := s.im.Connect(account.ID); err != nil {
			s.notice("Unable to connect to " + account.ServerName() + ": " +
				err.Error())
		}
	}
	return true
}

func missingRequired(opts im.Options) bool {
	for _, o := range opts {
		if o.Required && o.Value == "" {
			return true
		}
	}
	return false
}

func optionValue(o im.Option) string {
	if o.Type == im.OptionPassword {
		return "*******"
	}
	return o.Value
}

// /MAP edit ACCOUNT [KEY [VALUE...]]
func (s *Session) mapEdit(m *message.Message) bool {
	if m.CountArgs() < 2 {
		s.notice("Usage: /MAP edit ACCOUNT [KEY [VALUE]]")
		return false
	}

	account, err := s.im.Account(m.Arg(1))
	if err != nil {
		s.notice("Error: Account " + m.Arg(1) + " is unknown")
		return false
	}

	if m.CountArgs() < 3 {
		s.notice("-- Parameters of account " + account.ServerName() + " --")
		for _, o := range account.Options {
			s.notice(o.Name + " = " + optionValue(o))
		}
		return false
	}

	o, ok := account.Options.Get(m.Arg(2))
	if !ok {
		s.notice("Key " + m.Arg(2) + " does not exist.")
		return false
	}

	if m.CountArgs() < 4 {
		s.notice(o.Name + " = " + optionValue(o))
		return false
	}

	value := m.JoinArgs(3)
	opts := account.Options.Clone()
	if err := opts.Set(o.Name, value); err != nil {
		s.notice("Error: " + err.Error())
		return false
	}

	updated, err := s.im.UpdateAccount(account.ID, opts)
	if err != nil {
		s.notice("Error: " + err.Error())
		return false
	}
	o, _ = updated.Options.Get(o.Name)
	s.notice(o.Name + " = " + optionValue(o))

	s.updateAccount(updated)
	return false
}

// /MAP delete ACCOUNT
func (s *Session) mapDelete(m *message.Message) bool {
	if m.CountArgs() != 2 {
		s.notice("Usage: /MAP delete ACCOUNT")
		return false
	}

	account, err := s.im.Account(m.Arg(1))
	if err != nil {
		s.notice("Error: Account " + m.Arg(1) + " is unknown")
		return false
	}

	s.notice("Removing account " + account.Username)
	if err := s.im.DeleteAccount(account.ID); err != nil {
		s.notice("Error: " + err.Error())
		return false
	}
	s.removeAccount(account.ID)
	s.log.Infof("Deleted account %s", account.ID)
	return true
}

// /MAP cmd ACCOUNT [COMMAND]
func (s *Session) mapCmd(m *message.Message) bool {
	if m.CountArgs() < 2 {
		s.notice("Usage: /MAP cmd ACCOUNT [command]")
		return false
	}

	account, err := s.im.Account(m.Arg(1))
	if err != nil {
		s.notice("Error: Account " + m.Arg(1) + " is unknown")
		return false
	}
	if account.State != im.Connected {
		s.notice("Error: Account " + m.Arg(1) + " is not connected")
		return false
	}

	if m.CountArgs() < 3 {
		s.notice("Commands available for " + m.Arg(1) + ":")
		for _, c := range s.im.Commands(account.ID) {
			s.notice("  " + c)
		}
		return false
	}

	s.replyCmdStatus(m.Arg(2), s.im.RunCommand(account.ID, m.JoinArgs(2)))
	return false
}

func (s *Session) mapHelp(m *message.Message) bool {
	s.notice("add PROTO USERNAME PASSWD [CHANNEL] [options]   add an account")
	s.notice("reg PROTO USERNAME PASSWD [CHANNEL] [options]   add an account and register it on server")
	s.notice("edit ACCOUNT [KEY [VALUE]]                      edit an account")
	s.notice("cmd ACCOUNT [COMMAND]                           run a command on an account")
	s.notice("delete ACCOUNT                                  remove ACCOUNT from your accounts")
	s.notice("help                                            display this message")
	s.notice("Usage: /MAP add|register|edit|command|delete|help [...]")
	return false
}
