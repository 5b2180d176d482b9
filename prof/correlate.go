package prof

import "slices"

// Correlate links every backward record to the earlier forward records with
// the same sequence id. The result is aligned with records and the records
// are left untouched.
//
// Matching is exact: all forward records sharing the id are reported, even
// when unrelated forward calls reuse it. Backward records without a sequence
// id, or without a forward match, are Uncorrelated. Records that are not
// backward are NotApplicable.
func Correlate(records []TraceRecord) []CorrelationLink {
	links := make([]CorrelationLink, len(records))
	forward := make(map[int64][]int)
	for i := range records {
		r := &records[i]
		seq, hasSeq := r.Seq()
		switch r.Direction {
		case DirForward:
			links[i] = CorrelationLink{Status: NotApplicable, Forward: []int{}}
			if hasSeq {
				forward[seq] = append(forward[seq], i)
			}
		case DirBackward:
			if matches := forward[seq]; hasSeq && len(matches) > 0 {
				links[i] = CorrelationLink{Status: Correlated, Forward: slices.Clone(matches)}
			} else {
				links[i] = CorrelationLink{Status: Uncorrelated, Forward: []int{}}
			}
		default:
			links[i] = CorrelationLink{Status: NotApplicable, Forward: []int{}}
		}
	}
	return links
}
