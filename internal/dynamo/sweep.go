package dynamo

// GenerateSweep expands ps into index-aligned parameter subsets. The i-th
// subset takes the i-th candidate of every parameter; a parameter with fewer
// candidates repeats its last one. When no parameter has more than one
// candidate the sweep is empty and ps.Fixed() should be used instead.
func GenerateSweep(ps ParamSpace) []Params {
	maxLen := 0
	for _, vals := range ps {
		if len(vals) > maxLen {
			maxLen = len(vals)
		}
	}
	if maxLen <= 1 {
		return nil
	}

	sweep := make([]Params, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		subset := make(Params, len(ps))
		for k, vals := range ps {
			switch {
			case len(vals) == 0:
				continue
			case i < len(vals):
				subset[k] = vals[i]
			default:
				subset[k] = vals[len(vals)-1]
			}
		}
		sweep = append(sweep, subset)
	}
	return sweep
}
