package graph

import (
	"bufio"
	"strings"
)

// TrailerKey marks commits this tool generated for a changeset.
const TrailerKey = "Rflow-Tracking-Id"

// Trailer returns the message trailer line for a tracking id.
func Trailer(trackingID string) string {
	return TrailerKey + ": " + trackingID
}

// TrackingIDs extracts every tracking id trailer from a commit message.
func TrackingIDs(message string) []string {
	var ids []string
	sc := bufio.NewScanner(strings.NewReader(message))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), TrailerKey) {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}
