package schema

import "math"

func floatBits(f float64) uint64        { return math.Float64bits(f) }
func floatFromBits(b uint64) float64    { return math.Float64frombits(b) }
func floatFromOrderKey(b uint64) float64 {
	if b&(1<<63) != 0 {
		return math.Float64frombits(b &^ (1 << 63))
	}
	return math.Float64frombits(^b)
}
