package gateway

import (
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// noticeHook shows a session's warnings and errors to its client.
type noticeHook struct {
	s *Session
}

func (h noticeHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
	}
}

// Fire may run on any goroutine, so it only hands the line to the event
// loop.
func (h noticeHook) Fire(entry *logrus.Entry) error {
	s := h.s
	if atomic.LoadInt32(&s.registered) == 0 {
		return nil
	}
	if entry.Level > logrus.Level(atomic.LoadInt32(&s.logLevel)) {
		return nil
	}

	level := entry.Level.String()
	text := "*** " + strings.ToUpper(level[:1]) + level[1:] + ": " +
		entry.Message
	s.enqueue(func() { s.notice(text) })
	return nil
}

// newSessionLogger is a logger writing where logger does, with the session's
// notice hook added.
func newSessionLogger(logger *logrus.Logger, s *Session) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(logger.Out)
	l.SetFormatter(logger.Formatter)
	l.SetLevel(logger.GetLevel())

	hooks := logrus.LevelHooks{}
	for level, hs := range logger.Hooks {
		hooks[level] = append(hooks[level], hs...)
	}
	hooks.Add(noticeHook{s: s})
	l.ReplaceHooks(hooks)
	return l
}
