package core

// TimeFiller is implemented by pseudo devices whose observation reflects
// round-level timing rather than device state. The environment calls it
// after every completed round, replacing the device's placeholder entry.
type TimeFiller interface {
	FillTimes(latestTS, serverTS float64) Observation
}
