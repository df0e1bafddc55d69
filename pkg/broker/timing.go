package broker

import (
	"net"
	"time"
)

func timeNowPlus(d time.Duration) time.Time {
	return time.Now().Add(d)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
