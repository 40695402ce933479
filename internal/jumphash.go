package internal

// jumpMultiplier is the 64-bit linear congruential generator step of the
// algorithm.
const jumpMultiplier = 2862933555777941757

// JumpHash maps key to a bucket in [0, numBuckets) with the "Jump"
// consistent hash of Lamping and Veach (https://arxiv.org/abs/1406.2294).
// Growing numBuckets by one only moves keys to the new bucket.
// It returns 0 when numBuckets <= 0.
func JumpHash(key uint64, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}

	bucket, next := int64(-1), int64(0)
	for next < int64(numBuckets) {
		bucket = next
		key = key*jumpMultiplier + 1
		next = int64(float64(bucket+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(bucket)
}
