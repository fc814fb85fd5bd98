package gateway

// Server is a namespace for nicks. There is the local server the client is
// connected to and one remote server per IM account.
type Server struct {
	name string
	info string

	// account is the account ID of a remote server, "" for the local one.
	account string

	nicks []*Nick
}

func newServer(name, info, account string) *Server {
	return &Server{name: name, info: info, account: account}
}

// Name implements message.Entity.
func (s *Server) Name() string { return s.name }

// LongName implements message.Entity.
func (s *Server) LongName() string { return s.name }

// Info is the description shown in WHOIS and LINKS style replies.
func (s *Server) Info() string { return s.info }

// Account is the account ID of a remote server.
func (s *Server) Account() string { return s.account }

func (s *Server) addNick(n *Nick) {
	s.nicks = append(s.nicks, n)
}

func (s *Server) removeNick(n *Nick) {
	for i, other := range s.nicks {
		if other == n {
			s.nicks = append(s.nicks[:i], s.nicks[i+1:]...)
			return
		}
	}
}

// CountNicks is how many nicks the server has.
func (s *Server) CountNicks() int {
	return len(s.nicks)
}

// CountOnlineNicks is how many of the server's nicks are online.
func (s *Server) CountOnlineNicks() int {
	count := 0
	for _, n := range s.nicks {
		if n.IsOnline() {
			count++
		}
	}
	return count
}
