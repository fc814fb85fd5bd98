package tests

import (
	"log"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/horgh/irc"
)

func startClient(t *testing.T, minbif *Minbif, nick,
	password string) (*Client, <-chan irc.Message, chan<- irc.Message) {
	client := NewClient(nick, password, "127.0.0.1", minbif.Port)
	recvChan, sendChan, _, err := client.Start()
	if err != nil {
		t.Fatalf("error starting client: %s", err)
	}
	return client, recvChan, sendChan
}

// Test that a new nick creates an identity, and that the identity's password
// is checked when it logs in again.
func TestRegistration(t *testing.T) {
	minbif, err := harnessMinbif("irc.example.org")
	if err != nil {
		t.Fatalf("error harnessing minbif: %s", err)
	}
	defer minbif.stop()

	client1, recvChan1, _ := startClient(t, minbif, "alice", "password123")
	if waitForMessage(t, recvChan1, irc.Message{Command: irc.ReplyWelcome},
		"welcome from %s", client1.GetNick()) == nil {
		t.Fatalf("client1 did not get welcome")
	}
	if waitForMessage(t, recvChan1,
		irc.Message{Command: "372", Params: []string{"Hello from irc.example.org"}},
		"MOTD for %s", client1.GetNick()) == nil {
		t.Fatalf("client1 did not get the MOTD")
	}
	client1.Stop()

	client2, recvChan2, _ := startClient(t, minbif, "alice", "wrongpassword")
	defer client2.Stop()
	if waitForMessage(t, recvChan2,
		irc.Message{Command: "ERROR", Params: []string{"Incorrect password"}},
		"ERROR for %s", client2.GetNick()) == nil {
		t.Fatalf("client2 was not refused")
	}

	client3, recvChan3, _ := startClient(t, minbif, "alice", "password123")
	defer client3.Stop()
	if waitForMessage(t, recvChan3, irc.Message{Command: irc.ReplyWelcome},
		"welcome from %s", client3.GetNick()) == nil {
		t.Fatalf("client3 did not get welcome")
	}
}

// Test adding an account with /MAP and seeing it in the account tree.
func TestMap(t *testing.T) {
	minbif, err := harnessMinbif("irc.example.org")
	if err != nil {
		t.Fatalf("error harnessing minbif: %s", err)
	}
	defer minbif.stop()

	client, recvChan, sendChan := startClient(t, minbif, "bob", "password123")
	defer client.Stop()
	if waitForMessage(t, recvChan, irc.Message{Command: irc.ReplyWelcome},
		"welcome from %s", client.GetNick()) == nil {
		t.Fatalf("client did not get welcome")
	}

	sendChan <- irc.Message{Command: "MAP", Params: []string{"add", "irc", "bob"}}
	if waitForMessage(t, recvChan,
		irc.Message{Command: "NOTICE", Params: []string{"Usage: /MAP add irc"}},
		"usage for %s", client.GetNick()) == nil {
		t.Fatalf("client did not get the usage of /MAP add")
	}

	sendChan <- irc.Message{
		Command: "MAP",
		Params: []string{"add", "irc", "bob", "secret", "-server", "127.0.0.1",
			"-!auto_connect"},
	}
	if waitForMessage(t, recvChan,
		irc.Message{Command: "015", Params: []string{"-+bob:irc0"}},
		"new account for %s", client.GetNick()) == nil {
		t.Fatalf("client did not see the new account")
	}
	if waitForMessage(t, recvChan, irc.Message{Command: "017"},
		"end of map for %s", client.GetNick()) == nil {
		t.Fatalf("client did not get the end of the map")
	}

	sendChan <- irc.Message{Command: "MAP", Params: []string{"edit", "irc0",
		"password"}}
	if waitForMessage(t, recvChan,
		irc.Message{Command: "NOTICE", Params: []string{"password = *******"}},
		"masked password for %s", client.GetNick()) == nil {
		t.Fatalf("client did not get the masked password")
	}

	sendChan <- irc.Message{Command: "MAP"}
	if waitForMessage(t, recvChan,
		irc.Message{Command: "015", Params: []string{"` bob:irc0"}},
		"account tree for %s", client.GetNick()) == nil {
		t.Fatalf("client did not see the account")
	}
}

// Test that WALLOPS reaches every session and that DIE stops the process.
func TestWallopsAndDie(t *testing.T) {
	minbif, err := harnessMinbif("irc.example.org")
	if err != nil {
		t.Fatalf("error harnessing minbif: %s", err)
	}
	defer minbif.stop()

	client1, recvChan1, sendChan1 := startClient(t, minbif, "carol",
		"password123")
	defer client1.Stop()
	client2, recvChan2, _ := startClient(t, minbif, "dave", "password456")
	defer client2.Stop()

	if waitForMessage(t, recvChan1, irc.Message{Command: irc.ReplyWelcome},
		"welcome from %s", client1.GetNick()) == nil {
		t.Fatalf("client1 did not get welcome")
	}
	if waitForMessage(t, recvChan2, irc.Message{Command: irc.ReplyWelcome},
		"welcome from %s", client2.GetNick()) == nil {
		t.Fatalf("client2 did not get welcome")
	}

	sendChan1 <- irc.Message{Command: "OPER", Params: []string{"admin",
		"operpass"}}
	if waitForMessage(t, recvChan1, irc.Message{Command: irc.ReplyYoureOper},
		"oper for %s", client1.GetNick()) == nil {
		t.Fatalf("client1 did not become an operator")
	}

	sendChan1 <- irc.Message{Command: "WALLOPS", Params: []string{"hello all"}}
	if waitForMessage(t, recvChan2,
		irc.Message{Command: "WALLOPS", Params: []string{"hello all"}},
		"wallops to %s", client2.GetNick()) == nil {
		t.Fatalf("client2 did not receive the WALLOPS")
	}

	sendChan1 <- irc.Message{Command: "DIE", Params: []string{"maintenance"}}
	if waitForMessage(t, recvChan2, irc.Message{Command: "ERROR"},
		"ERROR for %s", client2.GetNick()) == nil {
		t.Fatalf("client2 was not disconnected")
	}

	if !waitForLog(minbif.LogChan,
		regexp.MustCompile(`msg="minbif shut down cleanly"`)) {
		t.Fatalf("minbif did not shut down")
	}
}

// waitForMessage waits for a message with the wanted command. When want has
// params, its last param must be a prefix or suffix of the message's last
// param.
func waitForMessage(
	t *testing.T,
	ch <-chan irc.Message,
	want irc.Message,
	format string,
	a ...interface{},
) *irc.Message {
	timeoutChan := time.After(10 * time.Second)
	for {
		select {
		case <-timeoutChan:
			t.Logf("timeout waiting for message: %s", want)
			return nil
		case got, ok := <-ch:
			if !ok {
				t.Logf("connection closed waiting for message: %s", want)
				return nil
			}
			if got.Command != want.Command || !paramsMatch(got, want) {
				continue
			}
			log.Printf("got "+format, a...)
			return &got
		}
	}
}

func paramsMatch(got, want irc.Message) bool {
	if len(want.Params) == 0 {
		return true
	}
	if len(got.Params) == 0 {
		return false
	}
	last := want.Params[len(want.Params)-1]
	if !strings.HasPrefix(got.Params[len(got.Params)-1], last) &&
		!strings.HasSuffix(got.Params[len(got.Params)-1], last) {
		return false
	}
	return true
}
