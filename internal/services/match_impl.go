package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ringside/internal/database"
)

// MatchStore is the persistence the match service needs
type MatchStore interface {
	CreateFighter(ctx context.Context, f *database.FighterRecord) (string, error)
	CreateMatch(ctx context.Context, title string, at time.Time, fighter1ID, fighter2ID string) (string, error)
	GetMatch(ctx context.Context, id string) (*database.MatchRecord, error)
	UpdateScores(ctx context.Context, matchID string, score1, score2 database.ScoreRecord) error
	RecentMatches(ctx context.Context) ([]*database.MatchRecord, error)
}

// MatchImplementation manages fighters, matches and punch scores
type MatchImplementation struct {
	store MatchStore
}

// NewMatchService creates a new match service implementation
func NewMatchService(store MatchStore) *MatchImplementation {
	return &MatchImplementation{store: store}
}

// CreateFighter registers a fighter
func (m *MatchImplementation) CreateFighter(ctx context.Context, p *CreateFighterPayload) (*CreatedResult, error) {
	if err := ValidateCreateFighterPayload(p); err != nil {
		return nil, err
	}

	id, err := m.store.CreateFighter(ctx, &database.FighterRecord{
		Name:      *p.Name,
		Country:   *p.Country,
		AvatarURL: *p.AvatarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fighter: %w", err)
	}
	return &CreatedResult{ID: id}, nil
}

// CreateMatch schedules a match between two registered fighters with
// zeroed scores.
func (m *MatchImplementation) CreateMatch(ctx context.Context, p *CreateMatchPayload) (*CreatedResult, error) {
	if err := ValidateCreateMatchPayload(p); err != nil {
		return nil, err
	}
	at, _ := parseMatchTime(*p.DateTime)

	id, err := m.store.CreateMatch(ctx, *p.Title, at, *p.Fighter1.ID, *p.Fighter2.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("%v", err)
		}
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	return &CreatedResult{ID: id}, nil
}

// GetMatch returns a match with fighters and scores
func (m *MatchImplementation) GetMatch(ctx context.Context, id string) (*MatchResult, error) {
	match, err := m.store.GetMatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if match == nil {
		return nil, notFound("match %s not found", id)
	}
	return newMatchResult(match), nil
}

// UpdateScore replaces both fighters' punch counts
func (m *MatchImplementation) UpdateScore(ctx context.Context, id string, p *UpdateScorePayload) (*MessageResult, error) {
	if err := ValidateUpdateScorePayload(p); err != nil {
		return nil, err
	}

	s1 := database.ScoreRecord{Thrown: *p.Scores.Fighter1.Thrown, Hits: *p.Scores.Fighter1.Hits}
	s2 := database.ScoreRecord{Thrown: *p.Scores.Fighter2.Thrown, Hits: *p.Scores.Fighter2.Hits}
	if err := m.store.UpdateScores(ctx, id, s1, s2); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("match %s not found", id)
		}
		return nil, fmt.Errorf("failed to update score: %w", err)
	}
	return &MessageResult{Message: "Score updated successfully"}, nil
}

// RecentMatches returns the latest matches, newest first
func (m *MatchImplementation) RecentMatches(ctx context.Context) ([]*MatchResult, error) {
	matches, err := m.store.RecentMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	res := make([]*MatchResult, len(matches))
	for i, match := range matches {
		res[i] = newMatchResult(match)
	}
	return res, nil
}
