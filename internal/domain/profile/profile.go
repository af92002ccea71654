// Package profile holds per-user preference state and the contract of the
// store that persists it.
package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/domain/ranking"
)

// Label names accepted from the interaction layer.
const (
	LabelLike    = "like"
	LabelDislike = "dislike"
)

// ParseLabel maps "like"/"dislike" to the stored 1/0 label.
func ParseLabel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LabelLike:
		return ranking.Like, nil
	case LabelDislike:
		return ranking.Dislike, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, s)
}

// LabelName is the inverse of ParseLabel.
func LabelName(label int) string {
	if label == ranking.Like {
		return LabelLike
	}
	return LabelDislike
}

// Profile is the persisted preference state of one user. The classifier is
// not stored: it is a pure function of Features and Labels and is refit when
// a session starts.
type Profile struct {
	Username string
	Colors   []string    // declared colours, "#rrggbb"
	Features [][]float64 // labelled vectors, in feedback order
	Labels   []int       // 0 dislike, 1 like; same length as Features
}

// Append records one labelled example.
func (p *Profile) Append(vector []float64, label int) {
	v := make([]float64, len(vector))
	copy(v, vector)
	p.Features = append(p.Features, v)
	p.Labels = append(p.Labels, label)
}

// LabelCount returns the number of labelled examples.
func (p Profile) LabelCount() int {
	return len(p.Labels)
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := Profile{
		Username: p.Username,
		Colors:   append([]string(nil), p.Colors...),
		Labels:   append([]int(nil), p.Labels...),
	}
	if p.Features != nil {
		out.Features = make([][]float64, len(p.Features))
		for i, v := range p.Features {
			out.Features[i] = append([]float64(nil), v...)
		}
	}
	return out
}

// Store is the FeedbackStore contract: a key-value store of profiles keyed by
// username. Upsert runs mutate on the current profile (a zero profile when
// absent) and persists the result before returning. A single writer per
// username is assumed.
type Store interface {
	Get(ctx context.Context, username string) (Profile, bool, error)
	Upsert(ctx context.Context, username string, mutate func(*Profile) error) (Profile, error)
}

// Record is the persisted shape of one profile.
type Record struct {
	Colors   []string    `json:"colors"`
	Features [][]float64 `json:"features"`
	Labels   []int       `json:"labels"`
}

// ToRecord converts a profile to its persisted shape.
func ToRecord(p Profile) Record {
	r := Record{Colors: p.Colors, Features: p.Features, Labels: p.Labels}
	if r.Colors == nil {
		r.Colors = []string{}
	}
	if r.Features == nil {
		r.Features = [][]float64{}
	}
	if r.Labels == nil {
		r.Labels = []int{}
	}
	return r
}

// FromRecord converts a persisted record back to a profile. Mismatched
// feature and label lengths are truncated to the shorter of the two.
func FromRecord(username string, r Record) Profile {
	n := len(r.Features)
	if len(r.Labels) < n {
		n = len(r.Labels)
	}
	return Profile{
		Username: username,
		Colors:   r.Colors,
		Features: r.Features[:n],
		Labels:   r.Labels[:n],
	}
}

// EncodeAll renders profiles as {"<username>": {colors, features, labels}}.
func EncodeAll(profiles map[string]Profile) ([]byte, error) {
	out := make(map[string]Record, len(profiles))
	for name, p := range profiles {
		out[name] = ToRecord(p)
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecodeAll parses the document produced by EncodeAll.
func DecodeAll(data []byte) (map[string]Profile, error) {
	var in map[string]Record
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(in))
	for name, r := range in {
		out[name] = FromRecord(name, r)
	}
	return out, nil
}
