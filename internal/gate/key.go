package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

// CacheKey fingerprints the route, its score bucket and the set of events the
// score was computed from. It carries no wall-clock term: entries expire through
// their TTL, and a rerun over unchanged evidence maps to the same key.
func CacheKey(route string, score, bucketWidth float64, events []contracts.RiskEvent) string {
	if bucketWidth <= 0 {
		bucketWidth = 1
	}
	bucket := int(math.Floor(score / bucketWidth))

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, eventIdentity(e))
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", route, bucket, len(events), strings.Join(ids, ","))))
	return hex.EncodeToString(sum[:])
}

// eventIdentity prefers the stored ID; unsaved events fall back to their
// content fingerprint and event time.
func eventIdentity(e contracts.RiskEvent) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s@%d", e.Fingerprint(), e.EventTime.Unix())
}
