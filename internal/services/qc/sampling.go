package qc

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
)

// SampleValue maps (work unit, check definition, task instance) to a value in
// [0, 1). It is a pure function of the three ids.
func SampleValue(workUnitID, checkDefinitionID, taskInstanceID uint) float64 {
	key := strconv.FormatUint(uint64(workUnitID), 10) + ":" +
		strconv.FormatUint(uint64(checkDefinitionID), 10) + ":" +
		strconv.FormatUint(uint64(taskInstanceID), 10)
	sum := sha256.Sum256([]byte(key))
	return float64(binary.BigEndian.Uint64(sum[:8])) / math.Exp2(64)
}

// Selected reports whether the check is inspected at the given rate.
func Selected(workUnitID, checkDefinitionID, taskInstanceID uint, rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return SampleValue(workUnitID, checkDefinitionID, taskInstanceID) < rate
}

// tunedRate applies inspector feedback to the effective rate. Fail resets to
// full inspection; Pass steps down to the base rate.
func tunedRate(base, effective, step float64, passed bool) float64 {
	if !passed {
		return 1.0
	}
	next := effective - step
	if next < base {
		next = base
	}
	return next
}
