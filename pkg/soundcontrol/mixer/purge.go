package mixer

import "strings"

// IsValid reports whether a resolved session may be delivered to clients
func IsValid(session SessionEntity) bool {
	return !strings.Contains(session.Name, JunkMarker)
}

// Purge removes every invalid session. The input slice is left untouched
func Purge(sessions []SessionEntity) []SessionEntity {
	// mark
	junk := make(map[int]bool)
	for idx, session := range sessions {
		if !IsValid(session) {
			junk[idx] = true
		}
	}

	// sweep
	kept := make([]SessionEntity, 0, len(sessions)-len(junk))
	for idx, session := range sessions {
		if !junk[idx] {
			kept = append(kept, session)
		}
	}

	return kept
}
