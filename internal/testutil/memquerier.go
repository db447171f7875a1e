package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// MemQuerier is an in-memory sqlc.Querier for service and handler tests
// that do not need a real database.
type MemQuerier struct {
	mu       sync.Mutex
	sessions map[[16]byte]sqlc.UploadSession
	now      func() time.Time
}

var _ sqlc.Querier = (*MemQuerier)(nil)

func NewMemQuerier() *MemQuerier {
	return &MemQuerier{
		sessions: make(map[[16]byte]sqlc.UploadSession),
		now:      time.Now,
	}
}

// TxRunner returns a runner that hands the querier itself to fn.
func (m *MemQuerier) TxRunner() func(ctx context.Context, fn func(q sqlc.Querier) error) error {
	return func(_ context.Context, fn func(q sqlc.Querier) error) error {
		return fn(m)
	}
}

func (m *MemQuerier) CreateUploadSession(_ context.Context, arg sqlc.CreateUploadSessionParams) (sqlc.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[arg.ID.Bytes]; ok {
		return sqlc.UploadSession{}, fmt.Errorf("duplicate key value violates unique constraint \"upload_sessions_pkey\"")
	}
	s := sqlc.UploadSession{
		ID:          arg.ID,
		FileName:    arg.FileName,
		FileSize:    arg.FileSize,
		MimeType:    arg.MimeType,
		OwnerID:     arg.OwnerID,
		ChunkSize:   arg.ChunkSize,
		ChunksTotal: arg.ChunksTotal,
		CreatedAt:   pgtype.Timestamptz{Time: m.now(), Valid: true},
	}
	m.sessions[arg.ID.Bytes] = s
	return s, nil
}

func (m *MemQuerier) GetUploadSession(_ context.Context, id pgtype.UUID) (sqlc.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id.Bytes]
	if !ok {
		return sqlc.UploadSession{}, pgx.ErrNoRows
	}
	return s, nil
}

func (m *MemQuerier) DeleteUploadSession(_ context.Context, id pgtype.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id.Bytes)
	return nil
}

func (m *MemQuerier) ListUploadSessionsCreatedBefore(_ context.Context, createdAt pgtype.Timestamptz) ([]pgtype.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old []sqlc.UploadSession
	for _, s := range m.sessions {
		if s.CreatedAt.Time.Before(createdAt.Time) {
			old = append(old, s)
		}
	}
	sort.Slice(old, func(i, j int) bool { return old[i].CreatedAt.Time.Before(old[j].CreatedAt.Time) })

	ids := make([]pgtype.UUID, len(old))
	for i, s := range old {
		ids[i] = s.ID
	}
	return ids, nil
}

// Backdate moves a session's created_at into the past.
func (m *MemQuerier) Backdate(id pgtype.UUID, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id.Bytes]; ok {
		s.CreatedAt.Time = s.CreatedAt.Time.Add(-age)
		m.sessions[id.Bytes] = s
	}
}

func (m *MemQuerier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
