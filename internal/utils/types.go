package utils

import "time"

// Job is one (URL, destination filename) pair. It has no identity beyond its
// two fields and is never deduplicated.
type Job struct {
	URL      string `yaml:"link"`
	Filename string `yaml:"op"`
}

type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailure OutcomeStatus = "failure"
)

// Outcome is produced once per executed job and is only observed through
// the sink and the tracker.
type Outcome struct {
	ExecutionID string
	Job         Job
	Status      OutcomeStatus
	Err         error
	Bytes       int64
	Duration    time.Duration
}

func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Timeout bounds the wait for response headers and, per job, the longest gap
// between two reads of the body. It is not a cap on the whole transfer.
type HTTPClientConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
}
