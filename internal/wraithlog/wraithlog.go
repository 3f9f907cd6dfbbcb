// Package wraithlog provides structured event logging for the data plane.
//
// The spec treats the eventual log destination as an external collaborator
// (a structured logging sink); this package is the seam between the data
// plane and that sink. Today the sink is logrus' standard logger, but every
// call site goes through Sink so a future collaborator can be substituted
// without touching the data plane.
package wraithlog

import (
	"github.com/sirupsen/logrus"
)

// Sink receives structured events emitted by the data plane.
type Sink interface {
	Event(fields logrus.Fields, message string)
	Errorf(fields logrus.Fields, err error, message string)
}

// Logrus adapts a logrus.FieldLogger into a Sink.
type Logrus struct {
	logrus.FieldLogger
}

// NewLogrus returns a Sink backed by the given logrus logger.
func NewLogrus(log logrus.FieldLogger) *Logrus {
	return &Logrus{FieldLogger: log}
}

func (l *Logrus) Event(fields logrus.Fields, message string) {
	l.WithFields(fields).Info(message)
}

func (l *Logrus) Errorf(fields logrus.Fields, err error, message string) {
	l.WithFields(fields).WithError(err).Error(message)
}

// Discard drops every event. Useful for tests.
type Discard struct{}

func (Discard) Event(logrus.Fields, string)         {}
func (Discard) Errorf(logrus.Fields, error, string) {}
