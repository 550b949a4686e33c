package keeper

// PairKey identifies a trading pair irrespective of direction: a buy of
// (A, B) and a sell of (B, A) are counterparties and land in the same group.
// Tokens are kept in lexicographic order so the key is canonical.
type PairKey struct {
	A, B string
}

func PairOf(o *Order) PairKey {
	if o.TokenIn <= o.TokenOut {
		return PairKey{A: o.TokenIn, B: o.TokenOut}
	}
	return PairKey{A: o.TokenOut, B: o.TokenIn}
}

func (k PairKey) String() string { return k.A + "/" + k.B }

// GroupByPair partitions open orders into per-pair groups. Pure function;
// malformed token fields just form their own groups and never match.
func GroupByPair(orders []*Order) map[PairKey][]*Order {
	groups := make(map[PairKey][]*Order)
	for _, o := range orders {
		key := PairOf(o)
		groups[key] = append(groups[key], o)
	}
	return groups
}
