package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/leyline/core/internal/database/models"
	"github.com/leyline/core/internal/functions"
	"gorm.io/gorm"
)

var (
	// ErrProfileNotFound indicates no profile exists for the address. It is
	// the engine's sentinel so form filling can match it.
	ErrProfileNotFound = functions.ErrProfileNotFound
	// ErrInvalidProfile indicates a profile without an email address
	ErrInvalidProfile = errors.New("invalid profile data")
	// ErrEmptyContext indicates an add-context request without text
	ErrEmptyContext = errors.New("context note is empty")
)

// ProfileMerger folds free text into profile data
type ProfileMerger interface {
	IsConfigured() bool
	MergeProfile(ctx context.Context, current map[string]string, note string) (map[string]string, error)
}

// ProfileService handles profile business logic
type ProfileService struct {
	db         *gorm.DB
	merger     ProfileMerger
	logService *LogService
}

// NewProfileService creates a new ProfileService instance
func NewProfileService(db *gorm.DB, merger ProfileMerger, logService *LogService) *ProfileService {
	return &ProfileService{db: db, merger: merger, logService: logService}
}

// GetProfile retrieves a profile by email address
func (s *ProfileService) GetProfile(email string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.Where("email = ?", normalizeAddress(email)).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	if profile.UserData == nil {
		profile.UserData = map[string]string{}
	}
	return &profile, nil
}

// ProfileData returns the user data of a profile; a missing profile is
// ErrProfileNotFound
func (s *ProfileService) ProfileData(email string) (map[string]string, error) {
	profile, err := s.GetProfile(email)
	if err != nil {
		return nil, err
	}
	return profile.UserData, nil
}

// UpsertProfile creates a profile or replaces the fields of the existing one
func (s *ProfileService) UpsertProfile(input *models.Profile) (*models.Profile, error) {
	address := normalizeAddress(input.Email)
	if address == "" {
		return nil, ErrInvalidProfile
	}

	profile, err := s.GetProfile(address)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		profile = &models.Profile{ID: uuid.NewString(), Email: address}
	case err != nil:
		return nil, err
	}

	profile.FirstName = input.FirstName
	profile.LastName = input.LastName
	if input.UserData != nil {
		profile.UserData = input.UserData
	}
	if profile.UserData == nil {
		profile.UserData = map[string]string{}
	}

	if err := s.db.Save(profile).Error; err != nil {
		return nil, err
	}

	s.logService.LogProfileUpdated(ProfileChangeDetails{Email: address, Source: "api", KeysAdded: sortedKeys(profile.UserData)})
	return profile, nil
}

// AddContext merges a free-text note into the profile's user data. Keys
// missing from the merge result keep their current value.
func (s *ProfileService) AddContext(ctx context.Context, email, note string) (map[string]string, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrEmptyContext
	}

	profile, err := s.GetProfile(email)
	if err != nil {
		return nil, err
	}

	var merged map[string]string
	if s.merger != nil && s.merger.IsConfigured() {
		merged, err = s.merger.MergeProfile(ctx, profile.UserData, note)
		if err != nil {
			s.logService.LogProfileUpdated(ProfileChangeDetails{Email: profile.Email, Source: "context", ErrorMsg: err.Error()})
			return nil, fmt.Errorf("failed to update user data: %w", err)
		}
	} else {
		merged = mergeNoteLines(profile.UserData, note)
	}

	merged, kept := restoreMissing(profile.UserData, merged)
	added := addedKeys(profile.UserData, merged)

	profile.UserData = merged
	if err := s.db.Save(profile).Error; err != nil {
		return nil, err
	}

	log.Printf("[ProfileService] Context added to %s: %d new keys, %d restored", profile.Email, len(added), len(kept))
	s.logService.LogProfileUpdated(ProfileChangeDetails{Email: profile.Email, Source: "context", KeysAdded: added, KeysKept: kept})
	return merged, nil
}

// restoreMissing copies every key of current absent from merged back into it
// and returns the restored keys.
func restoreMissing(current, merged map[string]string) (map[string]string, []string) {
	if merged == nil {
		merged = make(map[string]string, len(current))
	}
	var restored []string
	for key, value := range current {
		if _, ok := merged[key]; !ok {
			merged[key] = value
			restored = append(restored, key)
		}
	}
	sort.Strings(restored)
	return merged, restored
}

func addedKeys(before, after map[string]string) []string {
	var added []string
	for key := range after {
		if _, ok := before[key]; !ok {
			added = append(added, key)
		}
	}
	sort.Strings(added)
	return added
}

// mergeNoteLines applies "key: value" or "key = value" lines of a note
func mergeNoteLines(current map[string]string, note string) map[string]string {
	merged := make(map[string]string, len(current))
	for k, v := range current {
		merged[k] = v
	}

	for _, line := range strings.Split(note, "\n") {
		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" || value == "" {
			continue
		}
		merged[key] = value
	}
	return merged
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeAddress(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
