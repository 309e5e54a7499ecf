// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package vm

import "math"

// forPrep initializes the four-register numeric "for" loop state ahead of
// the loop body, following OpForPrep's contract: idx/limit/step/control
// occupy four consecutive registers, and a true skip result means the loop
// body must not run at all (the jump target is the instruction after the
// matching OpForLoop).
func (th *Thread) forPrep(idx, limit, step, control *value) (skip bool, err error) {
	initInt, isInitInt := (*idx).(integerValue)
	stepInt, isStepInt := (*step).(integerValue)
	if isInitInt && isStepInt {
		if stepInt == 0 {
			return false, &InternalInvariant{What: "'for' step is zero"}
		}
		limitInt, skip, err := integerForLimit(initInt, *limit, stepInt)
		if err != nil || skip {
			return skip, err
		}
		var count uint64
		if stepInt > 0 {
			count = uint64(limitInt) - uint64(initInt)
			if stepInt != 1 {
				count /= uint64(stepInt)
			}
		} else {
			positiveStep := uint64(-(stepInt + 1)) + 1
			count = (uint64(initInt) - uint64(limitInt)) / positiveStep
		}
		*limit = integerValue(count)
		*control = initInt
		return false, nil
	}

	limitNum, ok := toNumber(*limit)
	if !ok {
		return false, &InternalInvariant{What: "'for' limit must be a number"}
	}
	stepNum, ok := toNumber(*step)
	if !ok {
		return false, &InternalInvariant{What: "'for' step must be a number"}
	}
	initNum, ok := toNumber(*idx)
	if !ok {
		return false, &InternalInvariant{What: "'for' initial value must be a number"}
	}
	stepF := toFloat(stepNum)
	if stepF == 0 {
		return false, &InternalInvariant{What: "'for' step is zero"}
	}
	initF, limitF := toFloat(initNum), toFloat(limitNum)
	if !continueNumericForLoop(initF, limitF, stepF) {
		return true, nil
	}
	*idx = floatValue(initF)
	*limit = floatValue(limitF)
	*step = floatValue(stepF)
	*control = floatValue(initF)
	return false, nil
}

// forContinue advances the loop state for one more OpForLoop iteration,
// reporting whether the loop body should run again.
func forContinue(idx, limit, step, control *value) (bool, error) {
	switch stepV := (*step).(type) {
	case integerValue:
		idxInt, ok := (*idx).(integerValue)
		if !ok {
			return false, &InternalInvariant{What: "'for' index must be an integer"}
		}
		limitInt, ok := (*limit).(integerValue)
		if !ok {
			return false, &InternalInvariant{What: "'for' counter must be an integer"}
		}
		count := uint64(limitInt)
		if count == 0 {
			return false, nil
		}
		*limit = integerValue(count - 1)
		next := idxInt + stepV
		*idx = next
		*control = next
		return true, nil
	case floatValue:
		idxFloat, ok := (*idx).(floatValue)
		if !ok {
			return false, &InternalInvariant{What: "'for' index must be a number"}
		}
		limitFloat, ok := (*limit).(floatValue)
		if !ok {
			return false, &InternalInvariant{What: "'for' counter must be a number"}
		}
		next := idxFloat + stepV
		if !continueNumericForLoop(float64(next), float64(limitFloat), float64(stepV)) {
			return false, nil
		}
		*idx = next
		*control = next
		return true, nil
	default:
		return false, &InternalInvariant{What: "'for' step must be a number"}
	}
}

// integerForLimit converts a "for" loop's limit to an integer comparable
// against init by step, reporting skip=true when no initial value could
// satisfy the loop (so the loop body never runs).
func integerForLimit(init integerValue, limit value, step integerValue) (limitInt integerValue, skip bool, err error) {
	switch limit := limit.(type) {
	case integerValue:
		limitInt = limit
	case floatValue:
		li, ok := floatToIntegerForLoopLimit(float64(limit), step)
		if !ok {
			return 0, true, nil
		}
		limitInt = li
	case stringValue:
		n, ok := stringToNumber(string(limit))
		if !ok {
			return 0, false, &InternalInvariant{What: "'for' limit must be a number"}
		}
		switch n := n.(type) {
		case integerValue:
			limitInt = n
		case floatValue:
			li, ok := floatToIntegerForLoopLimit(float64(n), step)
			if !ok {
				return 0, true, nil
			}
			limitInt = li
		}
	default:
		return 0, false, &InternalInvariant{What: "'for' limit must be a number"}
	}
	if !continueIntegerForLoop(init, limitInt, step) {
		return limitInt, true, nil
	}
	return limitInt, false, nil
}

// floatToIntegerForLoopLimit rounds a floating-point "for" limit toward the
// loop's direction of travel, clamping to the int64 range when the float is
// out of range rather than failing the loop outright.
func floatToIntegerForLoopLimit(f float64, step integerValue) (integerValue, bool) {
	if math.IsNaN(f) || step == 0 {
		return 0, false
	}
	rounded := math.Floor(f)
	if step < 0 {
		rounded = math.Ceil(f)
	}
	if rounded < math.MinInt64 || rounded >= math.MaxInt64 {
		if f > 0 {
			return math.MaxInt64, step > 0
		}
		return math.MinInt64, step < 0
	}
	return integerValue(rounded), true
}

func continueIntegerForLoop(idx, limit, step integerValue) bool {
	if step > 0 {
		return idx <= limit
	}
	return limit <= idx
}

func continueNumericForLoop(idx, limit, step float64) bool {
	if step > 0 {
		return idx <= limit
	}
	return limit <= idx
}
