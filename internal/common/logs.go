package common

var noopServiceLog chan ServiceLog

func init() {
	noopServiceLog = make(chan ServiceLog, 64)
	go startNoopServiceLog()
}

// GetNoopServiceLog returns a channel whose messages are discarded,
// callers that do not care about service logs can use this to avoid
// blocking writers
func GetNoopServiceLog() chan ServiceLog {
	return noopServiceLog
}

func startNoopServiceLog() {
	for {
		_, ok := <-noopServiceLog
		if !ok {
			break
		}
	}
}

func StopNoopServiceLog() {
	close(noopServiceLog)
}
