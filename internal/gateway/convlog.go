package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// convLogger appends IMs to one file per peer under
// <user path>/logs/<account>/<peer>.log.
type convLogger struct {
	dir string
	log *logrus.Entry
}

func newConvLogger(userPath string, log *logrus.Entry) *convLogger {
	return &convLogger{dir: filepath.Join(userPath, "logs"), log: log}
}

// logFileName makes an IM name safe to use as a file name.
func logFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "_" + name
	}
	return name
}

// write logs one message. A nil logger logs nothing.
func (l *convLogger) write(account, peer, from, text string, action bool) {
	if l == nil {
		return
	}
	if err := l.append(account, peer, from, text, action); err != nil {
		l.log.Errorf("Unable to log conversation with %s: %s", peer, err)
	}
}

func (l *convLogger) append(account, peer, from, text string,
	action bool) error {
	dir := filepath.Join(l.dir, logFileName(account))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "unable to create log directory")
	}

	f, err := os.OpenFile(filepath.Join(dir, logFileName(peer)+".log"),
		os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrap(err, "unable to open log")
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	var b strings.Builder
	for _, line := range splitLines(text) {
		if action {
			fmt.Fprintf(&b, "%s * %s %s\n", now, from, line)
			continue
		}
		fmt.Fprintf(&b, "%s <%s> %s\n", now, from, line)
	}

	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "unable to write log")
	}
	return errors.Wrap(f.Close(), "unable to close log")
}
