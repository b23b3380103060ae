package world

import "github.com/go-gl/mathgl/mgl64"

// ProcessInput moves every player by input * speed * dt. Players are visited
// in owner order so float accumulation is identical across replays.
func ProcessInput(w *World, input InputFrame, dt float64) {
	if len(input) == 0 {
		return
	}
	for _, o := range w.sortedPlayerOwners() {
		p := w.players[o]
		in, ok := input[p.ID]
		if !ok {
			continue
		}
		tr, ok := w.transforms[o]
		if !ok {
			continue
		}
		in = in.Clamp()
		move := mgl64.Vec3{float64(in.X), float64(in.Y), 0}.Mul(p.Speed * dt)
		tr.Translation = tr.Translation.Add(move)
		w.transforms[o] = tr
	}
}

var _ StepFunc = ProcessInput
