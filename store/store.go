package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

const (
	appDir        = "ticketflow-cli"
	showCacheTTL  = 30 * time.Second
	maxRecentShow = 8
)

type cacheEnvelope[T any] struct {
	UpdatedAt time.Time `json:"updated_at"`
	Data      T         `json:"data"`
}

type RecentShow struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	OpenAt time.Time `json:"open_at"`
}

type showHistory struct {
	Shows []RecentShow `json:"shows"`
}

type showVisibility struct {
	Hidden []uuid.UUID `json:"hidden"`
}

type session struct {
	Token string `json:"token"`
}

// LoadShowCache returns the last fetched show list and whether it is still
// fresh enough to display without a refetch.
func LoadShowCache() ([]model.Show, bool, error) {
	path, err := cachePath("shows.json")
	if err != nil {
		return nil, false, err
	}
	cache, err := loadCache[[]model.Show](path)
	if err != nil {
		return nil, false, err
	}
	return cache.Data, time.Since(cache.UpdatedAt) <= showCacheTTL, nil
}

func SaveShowCache(shows []model.Show) error {
	path, err := cachePath("shows.json")
	if err != nil {
		return err
	}
	return saveCache(path, shows)
}

// LoadSession returns the saved session token, or "" when none is saved.
func LoadSession() (string, error) {
	path, err := configPath("session.json")
	if err != nil {
		return "", err
	}
	var s session
	if err := readJSON(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return s.Token, nil
}

// SaveSession stores the session token readable by the current user only.
func SaveSession(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	path, err := configPath("session.json")
	if err != nil {
		return err
	}
	return writeJSON(path, session{Token: token}, 0o600)
}

func ClearSession() error {
	path, err := configPath("session.json")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func LoadRecentShows() ([]RecentShow, error) {
	path, err := configPath("history.json")
	if err != nil {
		return nil, err
	}
	var history showHistory
	if err := readJSON(path, &history); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.New("invalid show history format")
	}
	return history.Shows, nil
}

// RememberShow moves a show to the front of the recently opened list.
func RememberShow(show model.Show) error {
	history, _ := LoadRecentShows()
	next := []RecentShow{{ID: show.Id, Name: show.Name, OpenAt: time.Now()}}

	for _, existing := range history {
		if existing.ID == show.Id {
			continue
		}
		next = append(next, existing)
		if len(next) >= maxRecentShow {
			break
		}
	}

	path, err := configPath("history.json")
	if err != nil {
		return err
	}
	return writeJSON(path, showHistory{Shows: next}, 0o644)
}

func LoadHiddenShows() (map[uuid.UUID]bool, error) {
	visibility, err := loadShowVisibility()
	if err != nil {
		return nil, err
	}
	result := map[uuid.UUID]bool{}
	for _, id := range visibility.Hidden {
		if id != uuid.Nil {
			result[id] = true
		}
	}
	return result, nil
}

func SetShowHidden(showID uuid.UUID, hidden bool) error {
	if showID == uuid.Nil {
		return errors.New("show id is required")
	}

	visibility, err := loadShowVisibility()
	if err != nil {
		return err
	}

	index := -1
	for i, id := range visibility.Hidden {
		if id == showID {
			index = i
			break
		}
	}

	if hidden {
		if index < 0 {
			visibility.Hidden = append(visibility.Hidden, showID)
		}
	} else if index >= 0 {
		visibility.Hidden = append(visibility.Hidden[:index], visibility.Hidden[index+1:]...)
	}

	sort.Slice(visibility.Hidden, func(i, j int) bool {
		return visibility.Hidden[i].String() < visibility.Hidden[j].String()
	})
	path, err := configPath("show_visibility.json")
	if err != nil {
		return err
	}
	return writeJSON(path, visibility, 0o644)
}

func loadShowVisibility() (showVisibility, error) {
	path, err := configPath("show_visibility.json")
	if err != nil {
		return showVisibility{}, err
	}
	var visibility showVisibility
	if err := readJSON(path, &visibility); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return showVisibility{}, nil
		}
		return showVisibility{}, errors.New("invalid show visibility format")
	}
	return visibility, nil
}

func loadCache[T any](path string) (cacheEnvelope[T], error) {
	var cache cacheEnvelope[T]
	if err := readJSON(path, &cache); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cache, nil
		}
		return cache, err
	}
	return cache, nil
}

func saveCache[T any](path string, data T) error {
	cache := cacheEnvelope[T]{
		UpdatedAt: time.Now(),
		Data:      data,
	}
	return writeJSON(path, cache, 0o644)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSON(path string, v any, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, perm)
}

func configPath(name string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDir, name), nil
}

func cachePath(name string) (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDir, name), nil
}
