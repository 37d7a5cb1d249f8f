package myth

import "time"

// mythEpoch is the origin of every on-disk timestamp:
// May 7th, 2009 @ 00:00:00 UTC.
var mythEpoch = time.Date(2009, time.May, 7, 0, 0, 0, 0, time.UTC)

// bioTimeNow returns the current time as seconds since the Myth epoch.
func bioTimeNow() uint64 {
	return uint64(time.Now().UTC().Sub(mythEpoch) / time.Second)
}
