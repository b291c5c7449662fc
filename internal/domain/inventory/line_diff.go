package inventory

// LinePair couples an existing line with its requested replacement
type LinePair struct {
	Existing *UsageLineItem
	Incoming LineInput
}

// LineDiff classifies requested lines against the record's current lines
type LineDiff struct {
	Unchanged []LinePair
	Changed   []LinePair
	Removed   []*UsageLineItem
	Added     []LineInput
}

// HasStockChanges reports whether applying the diff moves any stock
func (d LineDiff) HasStockChanges() bool {
	return len(d.Changed) > 0 || len(d.Removed) > 0 || len(d.Added) > 0
}

// DiffLines matches incoming lines to existing ones by (item, unit).
// Lines whose quantity is unchanged are left alone unless reallocateAll is
// set, which is the case when the header location or date moved.
// Incoming lines must already be free of duplicate keys.
func DiffLines(existing []UsageLineItem, incoming []LineInput, reallocateAll bool) LineDiff {
	byKey := make(map[LineKey]*UsageLineItem, len(existing))
	for i := range existing {
		byKey[existing[i].Key()] = &existing[i]
	}

	var diff LineDiff
	matched := make(map[LineKey]struct{}, len(incoming))
	for _, in := range incoming {
		cur, ok := byKey[in.Key()]
		if !ok {
			diff.Added = append(diff.Added, in)
			continue
		}
		matched[in.Key()] = struct{}{}
		pair := LinePair{Existing: cur, Incoming: in}
		if reallocateAll || !cur.Quantity.Equal(in.Quantity) {
			diff.Changed = append(diff.Changed, pair)
		} else {
			diff.Unchanged = append(diff.Unchanged, pair)
		}
	}

	for i := range existing {
		if _, ok := matched[existing[i].Key()]; !ok {
			diff.Removed = append(diff.Removed, &existing[i])
		}
	}
	return diff
}
