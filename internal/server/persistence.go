package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	OutcomeWon  = "won"
	OutcomeDraw = "draw"
)

// MatchRecord is a finished game as kept by the archive.
type MatchRecord struct {
	RoomID     string     `json:"roomId"`
	RoomCode   string     `json:"roomCode"`
	RoomName   string     `json:"roomName"`
	Outcome    string     `json:"outcome"`
	WinnerName string     `json:"winnerName,omitempty"`
	Players    []string   `json:"players"`
	Moves      []MoveView `json:"moves"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// MatchRecorder accepts finished games. Record must not block.
type MatchRecorder interface {
	Record(rec MatchRecord)
}

type MatchStore interface {
	SaveMatch(ctx context.Context, rec MatchRecord) error
	RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error)
	CountMatches(ctx context.Context) (int64, error)
}

// PostgresMatchStore keeps match history in the matches table.
type PostgresMatchStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMatchStore(pool *pgxpool.Pool) *PostgresMatchStore {
	return &PostgresMatchStore{pool: pool}
}

func (s *PostgresMatchStore) SaveMatch(ctx context.Context, rec MatchRecord) error {
	moves, err := json.Marshal(rec.Moves)
	if err != nil {
		return fmt.Errorf("failed to serialize moves for room %s: %w", rec.RoomCode, err)
	}

	query := `
		INSERT INTO matches (room_id, room_code, room_name, outcome, winner_name, players, moves, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		rec.RoomID,
		rec.RoomCode,
		rec.RoomName,
		rec.Outcome,
		rec.WinnerName,
		rec.Players,
		string(moves),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match for room %s: %w", rec.RoomCode, err)
	}
	return nil
}

// RecentMatches returns up to limit matches, newest first.
func (s *PostgresMatchStore) RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	query := `
		SELECT room_id, room_code, room_name, outcome, winner_name, players, moves, started_at, finished_at
		FROM matches
		ORDER BY finished_at DESC, id DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := []MatchRecord{}
	for rows.Next() {
		var rec MatchRecord
		var moves []byte
		if err := rows.Scan(
			&rec.RoomID,
			&rec.RoomCode,
			&rec.RoomName,
			&rec.Outcome,
			&rec.WinnerName,
			&rec.Players,
			&moves,
			&rec.StartedAt,
			&rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		if err := json.Unmarshal(moves, &rec.Moves); err != nil {
			return nil, fmt.Errorf("failed to deserialize moves for room %s: %w", rec.RoomCode, err)
		}
		matches = append(matches, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}
	return matches, nil
}

func (s *PostgresMatchStore) CountMatches(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return n, nil
}

// MatchArchive decouples game completion from the database: Record enqueues and
// a single background writer persists.
type MatchArchive struct {
	store  MatchStore
	queue  chan MatchRecord
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewMatchArchive(store MatchStore, buffer int, logger *zap.Logger) *MatchArchive {
	return &MatchArchive{
		store:  store,
		queue:  make(chan MatchRecord, buffer),
		logger: logger,
	}
}

// Record drops the match with a warning when the writer has fallen behind.
func (a *MatchArchive) Record(rec MatchRecord) {
	select {
	case a.queue <- rec:
	default:
		a.logger.Warn("match archive queue full, dropping record",
			zap.String("room_id", rec.RoomID), zap.String("room_code", rec.RoomCode))
	}
}

// Start runs the writer until ctx is cancelled; whatever is still queued then is
// flushed before Wait returns.
func (a *MatchArchive) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case rec := <-a.queue:
				a.save(ctx, rec)
			case <-ctx.Done():
				a.drain()
				return
			}
		}
	}()
}

func (a *MatchArchive) Wait() {
	a.wg.Wait()
}

func (a *MatchArchive) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-a.queue:
			a.save(ctx, rec)
		default:
			return
		}
	}
}

func (a *MatchArchive) save(ctx context.Context, rec MatchRecord) {
	if err := a.store.SaveMatch(ctx, rec); err != nil {
		a.logger.Error("failed to archive match",
			zap.String("room_id", rec.RoomID), zap.String("room_code", rec.RoomCode), zap.Error(err))
		return
	}
	a.logger.Debug("match archived",
		zap.String("room_id", rec.RoomID), zap.String("room_code", rec.RoomCode), zap.String("outcome", rec.Outcome))
}
