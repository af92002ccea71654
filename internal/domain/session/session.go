// Package session implements the per-user interaction loop: present one
// candidate at a time, record like/dislike feedback and re-rank the
// remaining candidates once the classifier can be trained.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/villes/internal/domain/features"
	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/internal/domain/profile"
	"github.com/okian/villes/internal/domain/ranking"
)

// Candidate is one presented record.
type Candidate struct {
	Position int // position within the current pass
	Pass     int // 1-based pass number
	Record   model.EnrichedCity
}

// Outcome reports what a feedback event did.
type Outcome struct {
	Recorded bool
	Labels   int
	Trained  bool
	Accuracy float64
	// TrainErr is set when training was due but skipped, e.g. with
	// ranking.ErrInsufficientClassBalance. It is informational only.
	TrainErr error
}

// Stats is a point-in-time view of a session.
type Stats struct {
	Username   string
	State      State
	Candidates int
	Excluded   int
	Pass       int
	Shown      int
	Trained    bool
}

// Session is the InteractionController for one user. Operations are
// serialised; concurrent sessions for the same username are not coordinated.
type Session struct {
	mu sync.Mutex

	username string
	engine   *ranking.Engine
	store    profile.Store

	records  []model.EnrichedCity
	set      features.Set
	declared []string
	model    *ranking.Classifier

	order   []int        // indexes into set.Vectors, in presentation order
	cursor  int          // next position of order to present
	shown   map[int]bool // positions presented in this pass
	current int          // position awaiting feedback, -1 when none
	pass    int
	state   State

	trainErr error
}

// Open logs username in and ranks records for them. The profile is created
// on first login; non-empty colors replace the declared colours. An existing
// profile with enough labels is used to train the classifier straight away;
// a skipped training is reported by TrainErr without failing the login.
func Open(ctx context.Context, engine *ranking.Engine, store profile.Store,
	username string, colors []string, records []model.EnrichedCity,
) (*Session, error) {
	if username == "" {
		return nil, profile.ErrEmptyUsername
	}
	p, err := store.Upsert(ctx, username, func(p *profile.Profile) error {
		if len(colors) > 0 {
			p.Colors = append([]string(nil), colors...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}

	s := &Session{
		username: username,
		engine:   engine,
		store:    store,
		records:  records,
		declared: p.Colors,
		shown:    make(map[int]bool),
		current:  -1,
		pass:     1,
		state:    Idle,
	}

	s.set = engine.ExtractFeatures(records)
	s.state = FeaturesLoaded

	if engine.ShouldTrain(p.LabelCount()) {
		c, err := engine.Train(p.Features, p.Labels)
		if err != nil {
			s.trainErr = err
		} else {
			s.model = c
		}
	}

	s.order = engine.Order(s.model, s.declared, s.set.Vectors)
	s.state = Ranked
	return s, nil
}

// TrainErr returns why the training attempted at login was skipped, if it was.
func (s *Session) TrainErr() error { return s.trainErr }

// Username returns the user the session belongs to.
func (s *Session) Username() string { return s.username }

// Excluded lists the records left out of ranking as malformed.
func (s *Session) Excluded() []features.Exclusion {
	return s.set.Excluded
}

// Next presents the next unseen candidate. When every candidate of the pass
// has been shown, a new pass starts from the top of a full re-rank with the
// current classifier and the shown set is cleared.
func (s *Session) Next() (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	if s.cursor >= len(s.order) {
		s.restart()
	}

	pos := s.cursor
	s.shown[pos] = true
	s.current = pos
	s.cursor++
	if s.cursor >= len(s.order) {
		s.state = Exhausted
	}

	return Candidate{
		Position: pos,
		Pass:     s.pass,
		Record:   s.records[s.set.Refs[s.order[pos]]],
	}, nil
}

// restart must be called with s.mu held.
func (s *Session) restart() {
	s.pass++
	s.cursor = 0
	s.current = -1
	s.shown = make(map[int]bool)
	s.order = s.engine.Order(s.model, s.declared, s.set.Vectors)
	s.state = Ranked
}

// Feedback labels the presented candidate. The example is persisted before
// anything else changes; on failure the error wraps profile.ErrPersistence,
// the candidate stays current and the feedback is not recorded. Once the
// threshold is reached the classifier is retrained and the not-yet-shown
// candidates are re-ranked.
func (s *Session) Feedback(ctx context.Context, label int) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 {
		return Outcome{}, ErrNoCurrentCandidate
	}
	if label != ranking.Like && label != ranking.Dislike {
		return Outcome{}, profile.ErrInvalidLabel
	}

	vec := s.set.Vectors[s.order[s.current]]
	p, err := s.store.Upsert(ctx, s.username, func(p *profile.Profile) error {
		p.Append(vec, label)
		return nil
	})
	if err != nil {
		if !errors.Is(err, profile.ErrPersistence) {
			err = fmt.Errorf("%w: %w", profile.ErrPersistence, err)
		}
		return Outcome{}, err
	}

	s.current = -1
	out := Outcome{Recorded: true, Labels: p.LabelCount()}

	if !s.engine.ShouldTrain(p.LabelCount()) {
		return out, nil
	}
	c, err := s.engine.Train(p.Features, p.Labels)
	if err != nil {
		out.TrainErr = err
		return out, nil
	}
	s.model = c
	s.state = Retrained
	out.Trained = true
	out.Accuracy = c.Accuracy

	s.rerankRemaining()
	if s.cursor < len(s.order) {
		s.state = Ranked
	} else {
		s.state = Exhausted
	}
	return out, nil
}

// rerankRemaining reorders order[cursor:] with the current classifier.
// Positions already shown keep their place.
func (s *Session) rerankRemaining() {
	rest := s.order[s.cursor:]
	if len(rest) < 2 {
		return
	}
	sub := make([][]float64, len(rest))
	for i, idx := range rest {
		sub[i] = s.set.Vectors[idx]
	}
	ranked := s.engine.Order(s.model, s.declared, sub)
	reordered := make([]int, 0, len(rest))
	for _, i := range ranked {
		reordered = append(reordered, rest[i])
	}
	copy(rest, reordered)
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Username:   s.username,
		State:      s.state,
		Candidates: len(s.order),
		Excluded:   len(s.set.Excluded),
		Pass:       s.pass,
		Shown:      len(s.shown),
		Trained:    s.model != nil,
	}
}

// Order returns the identities of the current ranking, for inspection.
func (s *Session) Order() []model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Identity, len(s.order))
	for i, idx := range s.order {
		out[i] = s.records[s.set.Refs[idx]].Identity()
	}
	return out
}
