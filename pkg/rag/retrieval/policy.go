package retrieval

// Policy decides how many chunks a question may pull into the prompt.
type Policy struct {
	Base   int
	PerDoc int
	Max    int
}

func DefaultPolicy() Policy {
	return Policy{Base: 6, PerDoc: 2, Max: 20}
}

// TotalTopK returns min(Max, Base + PerDoc*n), or 0 when there is nothing to
// search. A non-positive Max disables the cap.
func (p Policy) TotalTopK(n int) int {
	if n <= 0 {
		return 0
	}
	total := p.Base + p.PerDoc*n
	if p.Max > 0 && total > p.Max {
		total = p.Max
	}
	if total < 1 {
		total = 1
	}
	return total
}

// PerDoc splits total across n documents, rounding up.
func PerDoc(total, n int) int {
	if n <= 0 {
		return 0
	}
	return (total + n - 1) / n
}

// OverFetch is how many candidates a filtered search asks the index for.
// The session index mixes every attachment, so most hits may belong to
// other documents.
func OverFetch(k int) int {
	return 3 * k
}
