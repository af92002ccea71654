package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/villes/internal/adapters/http/api"
	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/adapters/repository"
	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/internal/domain/profile"
	"github.com/okian/villes/internal/domain/ranking"
	"github.com/okian/villes/internal/domain/session"
	"github.com/okian/villes/pkg/logger"
	"github.com/okian/villes/pkg/metrics"
)

// Recommender loads candidates and serves interaction sessions over them.
type Recommender struct {
	engine   *ranking.Engine
	profiles profile.Store
	registry *session.Registry

	store      repository.Store
	drainer    queue.Drainer
	drainBatch int

	mu        sync.Mutex
	catalog   []model.EnrichedCity
	positions map[model.Identity]int

	logger logger.Logger
}

var _ api.Sessions = (*Recommender)(nil)

// NewRecommender creates a recommender ranking with engine and persisting
// feedback in profiles.
func NewRecommender(engine *ranking.Engine, profiles profile.Store, opts ...RecommenderOption) *Recommender {
	r := &Recommender{
		engine:     engine,
		profiles:   profiles,
		registry:   session.NewRegistry(),
		drainBatch: 100,
		positions:  make(map[model.Identity]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("recommender")
	}
	return r
}

// LoadCandidates returns a snapshot of the candidates: the stored records
// in insertion order, then whatever processed_images_queue holds right now.
// A record seen again replaces the earlier one in place. Drained messages
// are acknowledged once merged; malformed ones are dropped.
func (r *Recommender) LoadCandidates(ctx context.Context) ([]model.EnrichedCity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		recs, err := r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list enriched records: %w", err)
		}
		for _, rec := range recs {
			r.merge(rec)
		}
	}

	if r.drainer != nil {
		if err := r.drain(ctx); err != nil {
			return nil, err
		}
	}

	metrics.UpdateCandidatesLoaded(len(r.catalog))
	out := make([]model.EnrichedCity, len(r.catalog))
	copy(out, r.catalog)
	return out, nil
}

// drain must be called with r.mu held.
func (r *Recommender) drain(ctx context.Context) error {
	for {
		batch, err := r.drainer.Drain(ctx, queue.ProcessedQueue, r.drainBatch)
		if err != nil {
			return fmt.Errorf("drain %s: %w", queue.ProcessedQueue, err)
		}
		for _, d := range batch {
			rec, err := model.DecodeEnriched(d.Data())
			if err != nil {
				r.logger.Warn(ctx, "dropping malformed processed record", logger.Error(err))
			} else {
				r.merge(rec)
			}
			if err := d.Ack(); err != nil && !errors.Is(err, queue.ErrAlreadySettled) {
				r.logger.Warn(ctx, "ack failed", logger.String("queue", queue.ProcessedQueue), logger.Error(err))
			}
		}
		if len(batch) < r.drainBatch {
			return nil
		}
	}
}

// merge must be called with r.mu held.
func (r *Recommender) merge(rec model.EnrichedCity) {
	id := rec.Identity()
	if i, ok := r.positions[id]; ok {
		r.catalog[i] = rec
		return
	}
	r.positions[id] = len(r.catalog)
	r.catalog = append(r.catalog, rec)
}

// Login opens a session for username over the current candidates.
func (r *Recommender) Login(ctx context.Context, username string, colors []string) (api.LoginResult, error) {
	if len(colors) > 0 {
		if _, err := model.ParseColors(colors); err != nil {
			return api.LoginResult{}, err
		}
	}
	candidates, err := r.LoadCandidates(ctx)
	if err != nil {
		return api.LoginResult{}, err
	}

	s, err := session.Open(ctx, r.engine, r.profiles, username, colors, candidates)
	if err != nil {
		if errors.Is(err, profile.ErrPersistence) {
			metrics.RecordErrorByComponent("session", "persistence")
		}
		return api.LoginResult{}, err
	}
	if terr := s.TrainErr(); terr != nil {
		metrics.RecordTrainingRun("skipped")
		r.logger.Info(ctx, "training skipped at login", logger.String("username", username), logger.Error(terr))
	}
	for _, ex := range s.Excluded() {
		r.logger.Debug(ctx, "candidate excluded",
			logger.String("identity", candidates[ex.Index].Identity().String()),
			logger.Error(ex.Err),
		)
	}

	id := r.registry.Add(s)
	metrics.UpdateActiveSessions(r.registry.Len())

	st := s.Stats()
	if st.Trained {
		metrics.RecordTrainingRun("trained")
	}
	r.logger.Info(ctx, "session opened",
		logger.String("session", id),
		logger.String("username", username),
		logger.Int("candidates", st.Candidates),
		logger.Int("excluded", st.Excluded),
		logger.Bool("trained", st.Trained),
	)
	return api.LoginResult{
		SessionID:  id,
		Candidates: st.Candidates,
		Excluded:   st.Excluded,
		Trained:    st.Trained,
	}, nil
}

// Next presents the next candidate of session id.
func (r *Recommender) Next(_ context.Context, id string) (session.Candidate, error) {
	s, err := r.registry.Get(id)
	if err != nil {
		return session.Candidate{}, err
	}
	return s.Next()
}

// Feedback records a like/dislike for the candidate being presented.
func (r *Recommender) Feedback(ctx context.Context, id string, label string) (session.Outcome, error) {
	s, err := r.registry.Get(id)
	if err != nil {
		return session.Outcome{}, err
	}
	l, err := profile.ParseLabel(label)
	if err != nil {
		return session.Outcome{}, err
	}

	out, err := s.Feedback(ctx, l)
	if err != nil {
		if errors.Is(err, profile.ErrPersistence) {
			metrics.RecordErrorByComponent("session", "persistence")
			r.logger.Error(ctx, "feedback not recorded", logger.String("session", id), logger.Error(err))
		}
		return out, err
	}

	metrics.RecordFeedback(profile.LabelName(l))
	switch {
	case out.Trained:
		metrics.RecordTrainingRun("trained")
		metrics.UpdateTrainingAccuracy(out.Accuracy)
		r.logger.Info(ctx, "classifier retrained",
			logger.String("username", s.Username()),
			logger.Int("labels", out.Labels),
			logger.Float64("accuracy", out.Accuracy),
		)
	case out.TrainErr != nil:
		metrics.RecordTrainingRun("skipped")
		r.logger.Info(ctx, "training skipped",
			logger.String("username", s.Username()),
			logger.Int("labels", out.Labels),
			logger.Error(out.TrainErr),
		)
	}
	return out, nil
}

// Close ends session id and releases its candidates.
func (r *Recommender) Close(ctx context.Context, id string) error {
	if !r.registry.Remove(id) {
		return fmt.Errorf("%w: %s", session.ErrUnknownSession, id)
	}
	metrics.UpdateActiveSessions(r.registry.Len())
	r.logger.Info(ctx, "session closed", logger.String("session", id))
	return nil
}

// GetStats returns recommender statistics for monitoring.
func (r *Recommender) GetStats() map[string]interface{} {
	r.mu.Lock()
	candidates := len(r.catalog)
	r.mu.Unlock()

	sessions := r.registry.Stats()
	perSession := make([]map[string]interface{}, len(sessions))
	for i, st := range sessions {
		perSession[i] = map[string]interface{}{
			"id":         st.ID,
			"username":   st.Username,
			"state":      st.State.String(),
			"candidates": st.Candidates,
			"pass":       st.Pass,
			"shown":      st.Shown,
			"trained":    st.Trained,
		}
	}
	return map[string]interface{}{
		"candidates":     candidates,
		"activeSessions": len(sessions),
		"trainings":      r.engine.Trainings(),
		"schema":         r.engine.Schema().Version,
		"trainThreshold": r.engine.Threshold(),
		"sessions":       perSession,
	}
}
