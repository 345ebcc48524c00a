package device

// Profile captures the ASIC configuration needed to model expected hashrate
type Profile struct {
	SmallCoreCount int
	ASICCount      int
}

// ProfileFromInfo derives a Profile from a device's reported configuration
func ProfileFromInfo(info *SystemInfo) Profile {
	return Profile{
		SmallCoreCount: info.SmallCoreCount,
		ASICCount:      info.ASICCount,
	}
}

// ExpectedHashrate returns the theoretical hashrate in GH/s at the given
// frequency: one hash per small core per clock cycle.
func (p Profile) ExpectedHashrate(frequencyMHz int) float64 {
	return float64(frequencyMHz) * float64(p.SmallCoreCount*p.ASICCount) / 1000.0
}
