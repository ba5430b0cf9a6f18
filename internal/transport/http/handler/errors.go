package handler

const (
	errInternalServer = "Internal server error"
	errJobNotFound    = "Job not found"
	errJobNotPending  = "Only pending jobs can be cancelled"
	errJobNotFailed   = "Only failed jobs can be retried"
)
