// Package analysis summarizes experiment results across monte carlo runs.
//
// Results are grouped by (simulation, subset). Within a group every run
// contributes its last substep per timestep, and [Aggregate] reduces the
// runs of each timestep to mean, standard deviation and range:
//
//	stats := analysis.Aggregate(results, "prey")
//	for _, g := range analysis.Groups(stats) {
//	    final := analysis.Final(stats[g])
//	    fmt.Println(g, final.Mean, final.Std)
//	}
package analysis
