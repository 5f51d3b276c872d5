package notification

import (
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// Priority is the escalation level of a detection alert.
type Priority string

const (
	PriorityPlain Priority = "detection"
	PriorityRare  Priority = "rare_species"
	PriorityNew   Priority = "new_species"
)

// speciesTracker decides the escalation level for detections: species never
// recorded before escalate to new, configured rare species escalate to
// rare, everything else stays plain. Ignored species suppress the alert
// entirely.
type speciesTracker struct {
	seen    *gocache.Cache
	rare    map[string]bool
	ignored map[string]bool
}

func newSpeciesTracker(rareSpecies, ignoredSpecies []string) *speciesTracker {
	t := &speciesTracker{
		seen:    gocache.New(gocache.NoExpiration, 0),
		rare:    make(map[string]bool, len(rareSpecies)),
		ignored: make(map[string]bool, len(ignoredSpecies)),
	}
	for _, s := range rareSpecies {
		t.rare[normalizeSpecies(s)] = true
	}
	for _, s := range ignoredSpecies {
		t.ignored[normalizeSpecies(s)] = true
	}
	return t
}

func normalizeSpecies(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// isIgnored reports whether alerts for the species are suppressed.
func (t *speciesTracker) isIgnored(species string) bool {
	return t.ignored[normalizeSpecies(species)]
}

// classify returns the priority for a sighting and records it as seen.
// Escalation order: new > rare > plain.
func (t *speciesTracker) classify(species string) Priority {
	key := normalizeSpecies(species)
	if key == "" {
		return PriorityPlain
	}

	_, seenBefore := t.seen.Get(key)
	t.seen.SetDefault(key, true)

	switch {
	case !seenBefore:
		return PriorityNew
	case t.rare[key]:
		return PriorityRare
	default:
		return PriorityPlain
	}
}
