package manager

import (
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

// resolveTargets expands target into the concrete recipients described by
// spec.md §4.6's table: the bridges to dispatch to, and whether the
// manager itself is among them (it never appears in bridges — it is not
// a row of the bridge table). Clauses are tried in the table's order;
// the first one that matches wins.
func (m *Manager) resolveTargets(target token.Token) (bridges []*bridgeEntry, self bool, err error) {
	switch target {
	case event.Everything:
		return m.allBridges(), true, nil
	case event.Manager:
		return nil, true, nil
	case event.AllBridges:
		return m.allBridges(), false, nil
	case event.AllChannels:
		return m.bridgesInAnyChannel(), false, nil
	case event.AllUsers:
		return m.bridgesOriginatingAnyUser(), false, nil
	}

	if entry, ok := m.byToken[target]; ok {
		return []*bridgeEntry{entry}, false, nil
	}
	if centry, ok := m.channelsByToken[target]; ok {
		return m.participantsOf(centry), false, nil
	}
	for _, centry := range m.channelsByToken {
		if u, ok := centry.ch.User(target); ok {
			if entry, ok := m.byToken[u.Origin]; ok {
				return []*bridgeEntry{entry}, false, nil
			}
		}
	}
	return nil, false, &InvalidTargetError{Target: target}
}

func (m *Manager) allBridges() []*bridgeEntry {
	out := make([]*bridgeEntry, 0, len(m.byToken))
	for _, entry := range m.byToken {
		out = append(out, entry)
	}
	return out
}

func (m *Manager) participantsOf(centry *channelEntry) []*bridgeEntry {
	out := make([]*bridgeEntry, 0, len(centry.ch.Participants()))
	for _, bid := range centry.ch.Participants() {
		if entry, ok := m.byToken[bid]; ok {
			out = append(out, entry)
		}
	}
	return out
}

func (m *Manager) bridgesInAnyChannel() []*bridgeEntry {
	seen := make(map[token.Token]bool)
	var out []*bridgeEntry
	for _, centry := range m.channelsByToken {
		for _, bid := range centry.ch.Participants() {
			if seen[bid] {
				continue
			}
			seen[bid] = true
			if entry, ok := m.byToken[bid]; ok {
				out = append(out, entry)
			}
		}
	}
	return out
}

func (m *Manager) bridgesOriginatingAnyUser() []*bridgeEntry {
	seen := make(map[token.Token]bool)
	var out []*bridgeEntry
	for _, centry := range m.channelsByToken {
		for _, uid := range centry.ch.Users() {
			u, _ := centry.ch.User(uid)
			if seen[u.Origin] {
				continue
			}
			seen[u.Origin] = true
			if entry, ok := m.byToken[u.Origin]; ok {
				out = append(out, entry)
			}
		}
	}
	return out
}
