package boltzmann

// batchSizes splits nc cases into nBatches near-equal batches: each batch
// takes remaining cases / remaining batches, so every case lands in exactly
// one batch and no two batch sizes differ by more than 1.
func batchSizes(nc, nBatches int) []int {
	sizes := make([]int, nBatches)
	done := 0
	for b := 0; b < nBatches; b++ {
		n := (nc - done) / (nBatches - b)
		sizes[b] = n
		done += n
	}
	return sizes
}

// maxBatchSize is the scratch geometry the backend allocates for.
func maxBatchSize(nc, nBatches int) int {
	max := 0
	for _, n := range batchSizes(nc, nBatches) {
		if n > max {
			max = n
		}
	}
	return max
}
