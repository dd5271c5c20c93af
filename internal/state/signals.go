package state

import (
	"sort"

	"botsync/internal/model"
)

// applySignalSnapshot replaces the channel's signal list wholesale and
// rebuilds the id index. The canonical order is by creation timestamp.
func (cs *channelState) applySignalSnapshot(signals []model.Signal, maxSignals int) {
	list := make([]model.Signal, len(signals))
	copy(list, signals)

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedTS < list[j].CreatedTS
	})

	if maxSignals > 0 && len(list) > maxSignals {
		list = list[len(list)-maxSignals:]
	}

	cs.signals = list
	cs.reindexSignals(0)
}

// applySignal merges one signal delta:
//   - unseen id: insert in creation-time order
//   - seen id: advance the status if the state machine allows it; all
//     other fields are immutable after creation
//
// Returns false when the delta was discarded as stale.
func (cs *channelState) applySignal(sig model.Signal, maxSignals int) bool {
	if idx, ok := cs.sigIndex[sig.ID]; ok {
		cur := cs.signals[idx]
		if !cur.Status.CanAdvanceTo(sig.Status) {
			return false
		}
		cur.Status = sig.Status
		cs.signals[idx] = cur
		return true
	}

	// Insert keeping creation-time order. New signals almost always land
	// at the tail, so scan from the end.
	pos := len(cs.signals)
	for pos > 0 && cs.signals[pos-1].CreatedTS > sig.CreatedTS {
		pos--
	}

	cs.signals = append(cs.signals, model.Signal{})
	copy(cs.signals[pos+1:], cs.signals[pos:])
	cs.signals[pos] = sig

	if maxSignals > 0 && len(cs.signals) > maxSignals {
		cs.signals = cs.signals[len(cs.signals)-maxSignals:]
		cs.reindexSignals(0)
		return true
	}

	cs.reindexSignals(pos)
	return true
}

// reindexSignals rebuilds the id index from position from onward.
func (cs *channelState) reindexSignals(from int) {
	if from == 0 {
		cs.sigIndex = make(map[string]int, len(cs.signals))
	}
	for i := from; i < len(cs.signals); i++ {
		cs.sigIndex[cs.signals[i].ID] = i
	}
}
