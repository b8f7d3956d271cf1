package calls

import "strings"

// Historical records arrive with two initiator shapes: a raw user id string,
// or a resolved reference object left over from server-side population
// (e.g. {"_id": "...", "username": "..."}). NormalizeInitiatorID collapses
// both into the canonical raw id at the ingestion boundary.
//
// It never fails; unrecognized shapes normalize to "" and the classifier
// treats such records as Incoming so rendering stays resilient.
func NormalizeInitiatorID(initiator any) string {
	switch v := initiator.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		// Resolved reference objects carry the id under one of these keys,
		// depending on which backend populated them.
		for _, key := range []string{"_id", "id", "user_id", "userId"} {
			if raw, ok := v[key]; ok {
				if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
		return ""
	case Participant:
		return strings.TrimSpace(v.UserID)
	case *Participant:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(v.UserID)
	default:
		return ""
	}
}
