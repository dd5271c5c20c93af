package state

import "botsync/internal/model"

// applyPositions replaces the channel's positions list wholesale. There is
// no per-position diffing: a closed position is indistinguishable from "no
// delta yet", and partial deltas risk resurrecting closed positions.
func (cs *channelState) applyPositions(positions []model.Position) {
	list := make([]model.Position, len(positions))
	copy(list, positions)
	cs.positions = list
}
