package strategy

// Unresolved marks an index whose price never reached its profit threshold.
const Unresolved = -1

type pending struct {
	price   float64
	origins []int
}

// WaitTimes returns, for every index, the number of periods until a later
// price first cleared price*(1+threshold), or Unresolved.
func WaitTimes(series []float64, threshold float64) []int {
	waits := make([]int, len(series))
	for i := range waits {
		waits[i] = Unresolved
	}
	stack := make([]pending, 0, 64)
	for i, price := range series {
		origins := []int{i}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if price >= top.price*(1+threshold) {
				for _, pos := range top.origins {
					waits[pos] = i - pos
				}
				stack = stack[:len(stack)-1]
				continue
			}
			if price < top.price {
				break
			}
			// neither a drop nor a profit: the older origins now wait on this price
			stack = stack[:len(stack)-1]
			origins = append(origins, top.origins...)
		}
		stack = append(stack, pending{price: price, origins: origins})
	}
	return waits
}

// WaitTimeSamples collects the resolved wait times of the indices whose price
// lies in [low, high).
func WaitTimeSamples(series []float64, low, high, threshold float64) []float64 {
	waits := WaitTimes(series, threshold)
	var samples []float64
	for i, price := range series {
		if price < low || price >= high {
			continue
		}
		if waits[i] > 0 {
			samples = append(samples, float64(waits[i]))
		}
	}
	return samples
}
