package fatfs

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const maxBackoff = 2 * time.Second

// RetryPolicy bounds how often a failed transfer is repeated. Before every
// repetition the backend is initialized again, and the wait between
// attempts doubles starting from Backoff.
type RetryPolicy struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Backoff:  10 * time.Millisecond,
}

// do runs transfer, and on failure re-initializes the backend and runs it
// again, up to p.Attempts times. Must be called with s.mu held.
func (p RetryPolicy) do(drive Drive, op string, s *slot, transfer func() error) error {

	err := transfer()
	backoff := p.Backoff

	for attempt := 1; err != nil && attempt <= p.Attempts; attempt++ {

		log.WithFields(log.Fields{
			"drive":   drive,
			"attempt": attempt,
			"error":   err,
		}).Warnf("%s failed, re-initializing", op)

		if backoff > 0 {
			time.Sleep(backoff)
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err = s.initialize(); err != nil {
			continue
		}
		err = transfer()
	}

	if err != nil {
		log.WithFields(log.Fields{"drive": drive, "error": err}).Errorf(
			"%s failed after %d retries", op, p.Attempts)
	}
	return err
}
