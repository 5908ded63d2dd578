package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/presbrey/chansync/hooks"
)

// Severity classifies an operator notice.
type Severity int

const (
	// Debug notices are only of interest while tracking down a problem.
	Debug Severity = iota
	// ServerNotice notices report network events operators should see.
	ServerNotice
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case ServerNotice:
		return "servnotice"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Level maps the severity to the zap level notices are logged at.
func (s Severity) Level() zapcore.Level {
	if s == Debug {
		return zapcore.DebugLevel
	}
	return zapcore.WarnLevel
}

// Sink receives every operator notice after it has been logged.
type Sink func(sev Severity, text string)

type notice struct {
	sev  Severity
	text string
}

// Notifier reports operator-visible notices.
type Notifier struct {
	log   *zap.Logger
	sinks *hooks.Registry[notice]
}

// NewNotifier creates a notifier that logs through log.
func NewNotifier(log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		log:   log,
		sinks: hooks.NewRegistry[notice](log.Named("sinks")),
	}
}

// AddSink registers an additional destination for notices. A panicking
// sink is logged and skipped.
func (n *Notifier) AddSink(s Sink) {
	n.sinks.RegisterNamed(hooks.FuncName(s), func(no notice) error {
		s(no.sev, no.text)
		return nil
	}, 0)
}

// Noticef formats and reports a notice.
func (n *Notifier) Noticef(sev Severity, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if ce := n.log.Check(sev.Level(), text); ce != nil {
		ce.Write(zap.Stringer("severity", sev))
	}

	_ = n.sinks.RunHooks(notice{sev: sev, text: text})
}
