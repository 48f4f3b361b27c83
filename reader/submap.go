package reader

import (
	"sort"

	"cryptostream/models"
)

// SubscriptionMap routes a SubscriptionID to its instrument. It is built
// once from the confirmed subscriptions of a handshake and never changes.
type SubscriptionMap struct {
	entries map[models.SubscriptionID]models.Instrument
}

func newSubscriptionMap(entries map[models.SubscriptionID]models.Instrument) *SubscriptionMap {
	return &SubscriptionMap{entries: entries}
}

func (m *SubscriptionMap) Find(id models.SubscriptionID) (models.Instrument, bool) {
	inst, ok := m.entries[id]
	return inst, ok
}

func (m *SubscriptionMap) Len() int { return len(m.entries) }

// IDs returns the ids in sorted order.
func (m *SubscriptionMap) IDs() []models.SubscriptionID {
	ids := make([]models.SubscriptionID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Instruments returns the distinct instruments in sorted order.
func (m *SubscriptionMap) Instruments() []models.Instrument {
	all := make([]models.Instrument, 0, len(m.entries))
	for _, inst := range m.entries {
		all = append(all, inst)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	out := all[:0]
	for i, inst := range all {
		if i > 0 && inst.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, inst)
	}
	return out
}
