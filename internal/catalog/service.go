package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

var ErrNotFound = errors.New("not found")

type Title struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Year        int       `json:"year,omitempty"`
	Genres      []string  `json:"genres,omitempty"`
	Overview    string    `json:"overview,omitempty"`
	PosterURL   string    `json:"poster_url,omitempty"`
	BackdropURL string    `json:"backdrop_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Progress struct {
	TitleID    string    `json:"title_id"`
	PositionMs int64     `json:"position_ms"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Service struct {
	session  *gocql.Session
	keyspace string
}

func NewService(session *gocql.Session, keyspace string) *Service {
	return &Service{session: session, keyspace: keyspace}
}

// List returns up to limit titles, filtered by a case-insensitive name
// match when query is non-empty.
func (s *Service) List(ctx context.Context, query string, limit int) ([]Title, error) {
	titles := make([]Title, 0)
	q := s.session.Query(fmt.Sprintf(`SELECT id,kind,name,year,genres,overview,poster_url,backdrop_url,created_at FROM %s.titles LIMIT ?`, s.keyspace), limit)
	iter := q.WithContext(ctx).Iter()
	var t Title
	for iter.Scan(&t.ID, &t.Kind, &t.Name, &t.Year, &t.Genres, &t.Overview, &t.PosterURL, &t.BackdropURL, &t.CreatedAt) {
		if query == "" || strings.Contains(strings.ToLower(t.Name), strings.ToLower(query)) {
			titles = append(titles, t)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return titles, nil
}

func (s *Service) Get(ctx context.Context, id string) (Title, error) {
	var t Title
	err := s.session.Query(fmt.Sprintf(`SELECT id,kind,name,year,genres,overview,poster_url,backdrop_url,created_at FROM %s.titles WHERE id=?`, s.keyspace), id).
		WithContext(ctx).
		Scan(&t.ID, &t.Kind, &t.Name, &t.Year, &t.Genres, &t.Overview, &t.PosterURL, &t.BackdropURL, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return Title{}, ErrNotFound
		}
		return Title{}, err
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, t Title) (Title, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Title{}, errors.New("name required")
	}
	if strings.TrimSpace(t.Kind) == "" {
		t.Kind = "movie"
	}
	id := gocql.TimeUUID()
	now := time.Now()
	err := s.session.Query(fmt.Sprintf(`INSERT INTO %s.titles (id,kind,name,year,genres,overview,poster_url,backdrop_url,created_at) VALUES (?,?,?,?,?,?,?,?,?)`, s.keyspace),
		id, t.Kind, t.Name, t.Year, t.Genres, t.Overview, t.PosterURL, t.BackdropURL, now).
		WithContext(ctx).Exec()
	if err != nil {
		return Title{}, err
	}
	t.ID = id.String()
	t.CreatedAt = now
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	uid, err := gocql.ParseUUID(id)
	if err != nil {
		return err
	}
	return s.session.Query(fmt.Sprintf(`DELETE FROM %s.titles WHERE id=?`, s.keyspace), uid).WithContext(ctx).Exec()
}

func (s *Service) UpdateProgress(ctx context.Context, userID, titleID string, pos int64) error {
	return s.session.Query(fmt.Sprintf(`UPDATE %s.play_state SET position_ms=?, updated_at=? WHERE user_id=? AND title_id=?`, s.keyspace),
		pos, time.Now(), userID, titleID).WithContext(ctx).Exec()
}

func (s *Service) Progress(ctx context.Context, userID, titleID string) (Progress, error) {
	var p Progress
	p.TitleID = titleID
	err := s.session.Query(fmt.Sprintf(`SELECT position_ms,updated_at FROM %s.play_state WHERE user_id=? AND title_id=?`, s.keyspace), userID, titleID).
		WithContext(ctx).
		Scan(&p.PositionMs, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return Progress{}, ErrNotFound
		}
		return Progress{}, err
	}
	return p, nil
}
