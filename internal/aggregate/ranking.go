package aggregate

import "sort"

// Stable returns the STABLE results from history, preserving test order
func Stable(history []Result) []Result {
	var stable []Result
	for _, r := range history {
		if r.Verdict == VerdictStable {
			stable = append(stable, r)
		}
	}
	return stable
}

// TopByHashrate ranks the STABLE results by average hashrate, highest first
func TopByHashrate(history []Result, n int) []Result {
	ranked := Stable(history)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AvgHashrateGHs > ranked[j].AvgHashrateGHs
	})
	return truncate(ranked, n)
}

// TopByEfficiency ranks the STABLE results by efficiency, lowest J/TH first
func TopByEfficiency(history []Result, n int) []Result {
	var ranked []Result
	for _, r := range Stable(history) {
		if r.EfficiencyValid {
			ranked = append(ranked, r)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EfficiencyJTH < ranked[j].EfficiencyJTH
	})
	return truncate(ranked, n)
}

func truncate(results []Result, n int) []Result {
	if len(results) > n {
		return results[:n]
	}
	return results
}
