package runtime

// CPU defaults, in milliseconds.
const (
	DefaultMaxTickLimit = 500
	DefaultBucketCap    = 10000
)

// CPUPolicy holds the world-wide CPU bounds.
type CPUPolicy struct {
	// MaxTickLimit caps the CPU one tick may use, bucket included.
	MaxTickLimit int
	// BucketCap caps the banked CPU.
	BucketCap int
}

func (p CPUPolicy) withDefaults() CPUPolicy {
	if p.MaxTickLimit <= 0 {
		p.MaxTickLimit = DefaultMaxTickLimit
	}
	if p.BucketCap <= 0 {
		p.BucketCap = DefaultBucketCap
	}
	return p
}

// ClampBucket bounds a stored bucket to [0, BucketCap].
func (p CPUPolicy) ClampBucket(bucket int) int {
	p = p.withDefaults()
	return min(max(bucket, 0), p.BucketCap)
}

// TickLimit is the hard cut-off for one tick. A tenant may draw the bucket
// down to MaxTickLimit and always gets at least its per-tick limit.
func (p CPUPolicy) TickLimit(limit, bucket int) int {
	p = p.withDefaults()
	return min(max(bucket, limit), p.MaxTickLimit)
}

// NextBucket returns the bucket after a tick that used `used` ms.
func (p CPUPolicy) NextBucket(bucket, limit, used int) int {
	return p.ClampBucket(bucket + limit - used)
}
