package flow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	logx "herdbot/pkg/logx"

	"herdbot/internal/session"
	"herdbot/internal/storage"
)

// minSessions is the smallest group worth operating as a unit; smaller
// groups defeat the point of splitting work across accounts.
const minSessions = 3

var (
	ErrDuplicateName        = errors.New("flow name already taken")
	ErrNotFound             = errors.New("flow not found")
	ErrInsufficientSessions = fmt.Errorf("need at least %d sessions", minSessions)
)

// Service manages flows: named session groups that runs operate on
// as a unit.
type Service struct {
	store storage.Store
	pool  *session.Pool
	log   logx.Logger
}

func NewService(store storage.Store, pool *session.Pool, log logx.Logger) *Service {
	return &Service{store: store, pool: pool, log: log.With(logx.String("component", "flow"))}
}

// Create makes a named flow from the given session phones. Every phone
// must resolve to a known session.
func (s *Service) Create(ctx context.Context, name string, ownerID int64, phones []string) (storage.Flow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Flow{}, errors.New("flow name is required")
	}
	if len(phones) < minSessions {
		return storage.Flow{}, ErrInsufficientSessions
	}

	ids := make([]int64, 0, len(phones))
	for _, ph := range phones {
		sess, err := s.pool.Get(ctx, ph)
		if err != nil {
			return storage.Flow{}, fmt.Errorf("session %s: %w", ph, err)
		}
		ids = append(ids, sess.ID)
	}

	f := storage.Flow{Name: name, OwnerID: ownerID}
	id, err := s.store.InsertFlow(ctx, f)
	if errors.Is(err, storage.ErrDuplicate) {
		return storage.Flow{}, ErrDuplicateName
	}
	if err != nil {
		return storage.Flow{}, err
	}
	f.ID = id

	if err := s.store.AddFlowSessions(ctx, id, ids); err != nil {
		_ = s.store.DeleteFlow(ctx, id)
		return storage.Flow{}, err
	}
	s.log.Info("flow created", logx.String("name", name), logx.Int("sessions", len(ids)))
	return f, nil
}

// AutoPartition shuffles the active sessions and deals them round-robin
// into floor(n/size) flows of exactly size members, named
// Flow_<ownerID>_<i>. Leftover sessions stay unassigned. A size of zero
// means the minimum group size. Name collisions with existing flows are
// skipped, leaving those sessions unassigned too.
func (s *Service) AutoPartition(ctx context.Context, ownerID int64, size int) ([]storage.Flow, error) {
	if size <= 0 {
		size = minSessions
	}
	sessions, err := s.pool.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	groups := len(sessions) / size
	if groups == 0 {
		return nil, ErrInsufficientSessions
	}

	shuffled := make([]storage.Session, len(sessions))
	copy(shuffled, sessions)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	buckets := make([][]int64, groups)
	for i, sess := range shuffled[:groups*size] {
		b := i % groups
		buckets[b] = append(buckets[b], sess.ID)
	}

	var out []storage.Flow
	for i, ids := range buckets {
		name := fmt.Sprintf("Flow_%d_%d", ownerID, i+1)
		f := storage.Flow{Name: name, OwnerID: ownerID}
		id, err := s.store.InsertFlow(ctx, f)
		if errors.Is(err, storage.ErrDuplicate) {
			s.log.Warn("flow name taken; skipping", logx.String("name", name))
			continue
		}
		if err != nil {
			return out, err
		}
		f.ID = id
		if err := s.store.AddFlowSessions(ctx, id, ids); err != nil {
			return out, err
		}
		out = append(out, f)
	}
	s.log.Info("auto partition done",
		logx.Int("sessions", len(sessions)),
		logx.Int("flows", len(out)),
	)
	return out, nil
}

func (s *Service) List(ctx context.Context) ([]storage.Flow, error) {
	return s.store.ListFlows(ctx)
}

func (s *Service) Get(ctx context.Context, name string) (storage.Flow, error) {
	f, err := s.store.GetFlowByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Flow{}, ErrNotFound
	}
	return f, err
}

// Members returns the sessions currently in the flow.
func (s *Service) Members(ctx context.Context, name string) ([]storage.Session, error) {
	f, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.store.ListFlowSessions(ctx, f.ID)
}

func (s *Service) Delete(ctx context.Context, name string) error {
	f, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFlow(ctx, f.ID); err != nil {
		return err
	}
	s.log.Info("flow deleted", logx.String("name", name))
	return nil
}

// AddSessions adds phones to an existing flow. Unknown phones fail the
// whole call; already-member phones are ignored.
func (s *Service) AddSessions(ctx context.Context, name string, phones []string) error {
	f, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(phones))
	for _, ph := range phones {
		sess, err := s.pool.Get(ctx, ph)
		if err != nil {
			return fmt.Errorf("session %s: %w", ph, err)
		}
		ids = append(ids, sess.ID)
	}
	return s.store.AddFlowSessions(ctx, f.ID, ids)
}

// RemoveSessions drops phones from a flow; unknown phones are ignored.
func (s *Service) RemoveSessions(ctx context.Context, name string, phones []string) error {
	f, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	var ids []int64
	for _, ph := range phones {
		sess, err := s.pool.Get(ctx, ph)
		if err != nil {
			continue
		}
		ids = append(ids, sess.ID)
	}
	return s.store.RemoveFlowSessions(ctx, f.ID, ids)
}
