package main

import (
	"fmt"
	"strings"

	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/world"
)

// Frames spent on each leg of the square and zigzag patterns.
const legFrames = 90

func scriptedInput(pattern string) (runtime.InputSource, error) {
	switch strings.ToLower(strings.TrimSpace(pattern)) {
	case "", "idle":
		return runtime.InputFunc(func(uint64) world.RawInput { return world.RawInput{} }), nil
	case "right":
		return runtime.InputFunc(func(uint64) world.RawInput { return world.RawInput{X: 1} }), nil
	case "square":
		legs := [4]world.RawInput{{X: 1}, {Y: 1}, {X: -1}, {Y: -1}}
		return runtime.InputFunc(func(f uint64) world.RawInput {
			return legs[(f/legFrames)%4]
		}), nil
	case "zigzag":
		return runtime.InputFunc(func(f uint64) world.RawInput {
			if (f/legFrames)%2 == 0 {
				return world.RawInput{X: 1, Y: 1}
			}
			return world.RawInput{X: 1, Y: -1}
		}), nil
	default:
		return nil, fmt.Errorf("unknown pattern %q", pattern)
	}
}
