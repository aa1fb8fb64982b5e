package util

import (
	"log"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

type journalWriter struct{}

func (journalWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	priority := journal.PriInfo
	if strings.Contains(msg, "Warning:") {
		priority = journal.PriWarning
	}
	err := journal.Send(msg, priority, map[string]string{"SYSLOG_IDENTIFIER": Name})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetupLogging routes the standard logger to journald when configured and available.
func SetupLogging(conf *AppConfig) {
	if !conf.Conf.WithJournald {
		return
	}
	if !journal.Enabled() {
		log.Println("Warning: withJournald is set but the journal socket is not available, logging to stderr")
		return
	}
	log.SetFlags(0)
	log.SetOutput(journalWriter{})
	log.Printf("Logging to journald as %s", Name)
}
