package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/scentmemory/scentmemory/pkg/models"
)

// ProfileRepository persists scent profiles.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a profile repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetOrCreate returns the user's profile, creating an empty one if none
// exists yet.
func (r *ProfileRepository) GetOrCreate(ctx context.Context, userID string) (*models.ScentProfile, error) {
	var profile models.ScentProfile
	const get = `SELECT id, user_id, intensity_preference, budget_range, disliked_notes, updated_at
		FROM scent_profiles WHERE user_id = $1`
	err := r.db.GetContext(ctx, &profile, get, userID)
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile = models.ScentProfile{
		ID:            uuid.New().String(),
		UserID:        userID,
		DislikedNotes: pq.StringArray{},
		UpdatedAt:     time.Now().UTC(),
	}
	const insert = `INSERT INTO scent_profiles (id, user_id, intensity_preference, budget_range, disliked_notes, updated_at)
		VALUES ($1, $2, '', '', $3, $4)`
	if _, err := r.db.ExecContext(ctx, insert, profile.ID, profile.UserID, profile.DislikedNotes, profile.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return &profile, nil
}

// Update applies non-nil fields to the user's profile.
func (r *ProfileRepository) Update(ctx context.Context, userID string, intensity, budget *string, dislikedNotes []string) error {
	profile, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	if intensity != nil {
		profile.IntensityPreference = *intensity
	}
	if budget != nil {
		profile.BudgetRange = *budget
	}
	if dislikedNotes != nil {
		profile.DislikedNotes = NormalizeNotes(dislikedNotes)
	}

	const q = `UPDATE scent_profiles
		SET intensity_preference = $2, budget_range = $3, disliked_notes = $4, updated_at = $5
		WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, q, userID, profile.IntensityPreference, profile.BudgetRange, profile.DislikedNotes, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// AddDislikedNotes appends notes to the user's disliked set, trimmed,
// casefolded, and deduplicated against the existing entries. Returns the
// resulting note list.
func (r *ProfileRepository) AddDislikedNotes(ctx context.Context, userID string, notes []string) ([]string, error) {
	profile, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := mergeNotes(profile.DislikedNotes, notes)

	const q = `UPDATE scent_profiles SET disliked_notes = $2, updated_at = $3 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, q, userID, pq.StringArray(merged), time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to add disliked notes: %w", err)
	}
	return merged, nil
}

// NormalizeNotes trims, casefolds, and deduplicates a note list, dropping
// empties while preserving first-seen order.
func NormalizeNotes(notes []string) []string {
	return mergeNotes(nil, notes)
}

func mergeNotes(existing []string, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))

	add := func(note string) {
		note = strings.ToLower(strings.TrimSpace(note))
		if note == "" {
			return
		}
		if _, ok := seen[note]; ok {
			return
		}
		seen[note] = struct{}{}
		merged = append(merged, note)
	}

	for _, n := range existing {
		add(n)
	}
	for _, n := range incoming {
		add(n)
	}
	return merged
}
