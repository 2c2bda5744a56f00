package estimate

// DeriveProduction turns a cached provider response into roof columns.
// Fields the provider left null become zero; a null column is reserved for
// fingerprints that have no response at all.
func DeriveProduction(resp RawResponse) Production {
	var p Production

	totals := resp.Outputs.Totals.Fixed
	if totals == nil {
		totals = &FixedTotals{}
	}
	p.AnnualKWhPerM2 = Float(orZero(totals.EY))
	p.YearlyVariation = Float(orZero(totals.SDY))
	p.MonthlyAverageKWhPerM2 = Float(orZero(totals.EM))
	p.TotalLoss = Float(orZero(totals.LTotal))

	for i := range p.MonthlyKWhPerM2 {
		p.MonthlyKWhPerM2[i] = Float(0)
	}
	for i, m := range resp.Outputs.Monthly.Fixed {
		// Entries carry their month number; fall back to position.
		slot := m.Month - 1
		if slot < 0 || slot >= len(p.MonthlyKWhPerM2) {
			slot = i
		}
		if slot >= len(p.MonthlyKWhPerM2) {
			continue
		}
		p.MonthlyKWhPerM2[slot] = Float(orZero(m.EM))
	}

	return p
}

// NullProduction is the value written to roofs whose fingerprint never
// received a response.
func NullProduction() Production {
	return Production{}
}

// Valid reports whether the production columns carry data.
func (p Production) Valid() bool {
	return p.AnnualKWhPerM2.Valid
}

// Merge projects cached results onto every roof sharing a fingerprint and
// returns the production per fingerprint. Roofs are mutated in place.
// Merge is a pure function of the cache contents, so running it twice yields
// the same output.
func Merge(roofs []Roof, cache Cache) map[Fingerprint]Production {
	groups := make(map[Fingerprint][]int)
	order := make([]Fingerprint, 0)
	for i, r := range roofs {
		fp := r.Fingerprint()
		if _, ok := groups[fp]; !ok {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], i)
	}

	estimates := make(map[Fingerprint]Production, len(groups))
	for _, fp := range order {
		prod := NullProduction()
		if resp, ok := cache.Get(fp); ok {
			prod = DeriveProduction(resp)
		}
		estimates[fp] = prod

		for _, i := range groups[fp] {
			roofs[i].Production = prod
		}
	}
	return estimates
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
