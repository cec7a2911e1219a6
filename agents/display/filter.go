package display

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"dlevel-stack/internal/models"
)

// Bucket is a D-Level score range offered as a filter.
type Bucket string

const (
	BucketCalm         Bucket = "calm"
	BucketBalanced     Bucket = "balanced"
	BucketEnergetic    Bucket = "energetic"
	BucketElectrifying Bucket = "electrifying"
)

type bucketRange struct {
	label    string
	min, max float64
}

var bucketRanges = map[Bucket]bucketRange{
	BucketCalm:         {"Calm (1-30)", 1, 30},
	BucketBalanced:     {"Balanced (31-65)", 31, 65},
	BucketEnergetic:    {"Energetic (66-85)", 66, 85},
	BucketElectrifying: {"Electrifying (86-100)", 86, 100},
}

// Buckets lists every bucket in display order.
var Buckets = []Bucket{BucketCalm, BucketBalanced, BucketEnergetic, BucketElectrifying}

func (b Bucket) Label() string {
	return bucketRanges[b].label
}

// Contains reports whether level falls inclusively within the bucket.
func (b Bucket) Contains(level float64) bool {
	r, ok := bucketRanges[b]
	return ok && level >= r.min && level <= r.max
}

func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := bucketRanges[b]; !ok {
		return "", fmt.Errorf("unknown bucket %q", s)
	}
	return b, nil
}

type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Entry is one cached analysis and the key it is stored under.
type Entry struct {
	Key    string
	Record models.AnalysisRecord
}

// Filter selects and orders entries. Query matches titles case-insensitively;
// an entry passes the bucket filter when it falls in any selected bucket.
// Both predicates must hold.
type Filter struct {
	Query   string
	Buckets []Bucket
	Order   SortOrder
}

// Apply returns the entries passing f, sorted by D-Level. Entries with equal
// scores keep their input order ascending; descending is the exact reverse.
func Apply(entries []Entry, f Filter) []Entry {
	query := strings.ToLower(f.Query)

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if query != "" && !strings.Contains(strings.ToLower(e.Record.Title), query) {
			continue
		}
		if len(f.Buckets) > 0 && !inAnyBucket(e.Record.DLevel, f.Buckets) {
			continue
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.Record.DLevel, b.Record.DLevel)
	})
	if f.Order == Descending {
		slices.Reverse(out)
	}
	return out
}

func inAnyBucket(level float64, buckets []Bucket) bool {
	for _, b := range buckets {
		if b.Contains(level) {
			return true
		}
	}
	return false
}
