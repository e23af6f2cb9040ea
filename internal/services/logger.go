package services

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log field keys every deal event carries
const (
	FieldEvent   = "event"
	FieldActor   = "actor"
	FieldDealID  = "deal_id"
	FieldOutcome = "outcome"
)

// NewLogger builds the process logger. The stdlib logger is redirected into it
// so config and gorm startup lines end up in the same stream.
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	log.SetOutput(logger.Writer())
	return logger
}

// NewNopLogger discards everything; used by tests and the CLI's quiet paths
func NewNopLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// dealEvent returns an entry with the fixed deal event fields set
func dealEvent(logger logrus.FieldLogger, event, actor, dealID, outcome string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldEvent:   event,
		FieldActor:   actor,
		FieldDealID:  dealID,
		FieldOutcome: outcome,
	})
}
