package capability

// rawScores maps a rank row to unnormalized strength scores. Each entry
// decays with its distance d from the row's best (smallest) rank:
//
//	d = 0        1.0
//	1 <= d <= 3  1 / (1 + 0.10 d)
//	4 <= d <= 8  base1 / (1 + 0.15 (d-3)),  base1 = 1/1.30
//	9 <= d <= 15 base2 / (1 + 0.20 (d-8)),  base2 = base1/1.75
//	d > 15       base3 / (1 + 0.30 (d-15)), base3 = base2/2.40
//
// The regimes chain: each base is the previous regime evaluated at its
// boundary, so the curve is continuous and strictly decreasing in d.
func rawScores(ranks []int) []float64 {
	best := ranks[0]
	for _, r := range ranks[1:] {
		if r < best {
			best = r
		}
	}

	base1 := 1.0 / (1.0 + 0.10*3)
	base2 := base1 / (1.0 + 0.15*5)
	base3 := base2 / (1.0 + 0.20*7)

	scores := make([]float64, len(ranks))
	for i, r := range ranks {
		d := r - best
		switch {
		case d == 0:
			scores[i] = 1.0
		case d <= 3:
			scores[i] = 1.0 / (1.0 + 0.10*float64(d))
		case d <= 8:
			scores[i] = base1 / (1.0 + 0.15*float64(d-3))
		case d <= 15:
			scores[i] = base2 / (1.0 + 0.20*float64(d-8))
		default:
			scores[i] = base3 / (1.0 + 0.30*float64(d-15))
		}
	}
	return scores
}

// deriveRow converts one rank row into a capability row scaled so the
// maximum equals ScaleTarget. The row depends on its own ranks alone,
// never on peer rows.
func deriveRow(ranks []int) []float64 {
	raw := rawScores(ranks)

	max := raw[0]
	for _, s := range raw[1:] {
		if s > max {
			max = s
		}
	}

	row := make([]float64, len(raw))
	for i, s := range raw {
		row[i] = s / max * ScaleTarget
	}
	return row
}

func deriveMatrix(rankRows [][]int) [][]float64 {
	matrix := make([][]float64, len(rankRows))
	for i, ranks := range rankRows {
		matrix[i] = deriveRow(ranks)
	}
	return matrix
}
