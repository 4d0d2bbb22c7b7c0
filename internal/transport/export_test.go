package transport

import "time"

func (s *Sender) setRetry(retries int, backoff time.Duration) {
	s.opts.MaxRetries = retries
	s.opts.RetryBackoff = backoff
}
