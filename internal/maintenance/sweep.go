package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "herdbot/pkg/logx"

	"herdbot/internal/session"
	"herdbot/internal/storage"
)

const defaultSpec = "0 4 * * *"

// Sweeper runs a nightly reconciliation: artifact files without a session
// row are removed, and inactive rows whose artifact is gone are purged
// (their flow memberships cascade away with them).
type Sweeper struct {
	store storage.Store
	pool  *session.Pool
	spec  string
	log   logx.Logger

	cron *cron.Cron
}

func NewSweeper(store storage.Store, pool *session.Pool, spec string, log logx.Logger) *Sweeper {
	if strings.TrimSpace(spec) == "" {
		spec = defaultSpec
	}
	return &Sweeper{
		store: store,
		pool:  pool,
		spec:  spec,
		log:   log.With(logx.String("component", "maintenance")),
	}
}

// Start schedules the sweep. Returns an error only for an invalid spec.
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance scheduled", logx.String("spec", s.spec))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep performs one reconciliation pass. Safe to call directly (the
// operator can trigger it from the control bot).
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()
	removedFiles, purgedRows := 0, 0

	rows, err := s.store.ListSessions(ctx)
	if err != nil {
		s.log.Warn("sweep: list sessions failed", logx.Err(err))
		return
	}
	byArtifact := map[string]storage.Session{}
	for _, r := range rows {
		byArtifact[r.Artifact] = r
	}

	entries, err := os.ReadDir(s.pool.Dir())
	if err != nil {
		s.log.Warn("sweep: read dir failed", logx.Err(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".session") {
			continue
		}
		if _, ok := byArtifact[e.Name()]; ok {
			continue
		}
		path := filepath.Join(s.pool.Dir(), e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("sweep: remove orphan failed", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		removedFiles++
	}

	for _, r := range rows {
		if r.Active {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.pool.Dir(), r.Artifact)); err == nil {
			continue
		}
		if err := s.store.DeleteSession(ctx, r.Phone); err != nil {
			s.log.Warn("sweep: purge row failed", logx.String("phone", r.Phone), logx.Err(err))
			continue
		}
		purgedRows++
	}

	s.log.Info("sweep done",
		logx.Int("orphan_files_removed", removedFiles),
		logx.Int("dead_rows_purged", purgedRows),
		logx.Duration("took", time.Since(start)),
	)
}
