// Package store is the session-side lead cache. Mutations are applied
// locally first, sent through the gateway, and rolled back on failure.
package store

import (
	"context"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"leadflow/internal/domain"
	"leadflow/internal/gateway"
	"leadflow/internal/realtime"
	"leadflow/internal/visibility"
	"leadflow/internal/workflow"
)

// Capabilities answers permission checks for the session identity.
// auth.PermissionSet satisfies it.
type Capabilities interface {
	Has(perm string) bool
}

// Store holds the leads visible to one session. Construct one per session
// with New; it is safe for concurrent use.
type Store struct {
	gw      gateway.Gateway
	who     domain.Identity
	machine workflow.Machine
	caps    Capabilities
	now     func() time.Time
	newID   func() string
	logger  *charmLog.Logger
	metrics *Metrics

	mu    sync.Mutex
	leads []domain.Lead
	// epoch is bumped whenever reconciliation replaces or removes a lead.
	// A rollback only restores its image when the epoch is unchanged.
	epoch map[string]uint64
	// tails holds the latest unresolved mutation per lead id.
	tails map[string]*Pending
}

type Option func(*Store)

func WithIdentity(who domain.Identity) Option {
	return func(s *Store) { s.who = who }
}

func WithMachine(m workflow.Machine) Option {
	return func(s *Store) { s.machine = m }
}

// WithPermissions enables capability checks before the local apply. Without
// it only the workflow machine gates mutations.
func WithPermissions(c Capabilities) Option {
	return func(s *Store) { s.caps = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func WithLogger(l *charmLog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func New(gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		gw:      gw,
		machine: workflow.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  charmLog.Default(),
		epoch:   map[string]uint64{},
		tails:   map[string]*Pending{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the session identity.
func (s *Store) Identity() domain.Identity { return s.who }

// Machine returns the workflow machine used for local applies.
func (s *Store) Machine() workflow.Machine { return s.machine }

// Load replaces the collection. Pending mutations keep running but their
// rollbacks are skipped for leads whose image was replaced.
func (s *Store) Load(leads []domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		s.epoch[l.ID]++
	}
	s.leads = s.leads[:0:0]
	for _, l := range leads {
		if l.Deleted {
			continue
		}
		s.epoch[l.ID]++
		s.leads = append(s.leads, l.Clone())
	}
}

// Hydrate loads the collection from the gateway. The store is left untouched
// on failure.
func (s *Store) Hydrate(ctx context.Context) error {
	res := s.gw.ListLeads(ctx)
	if err := res.Err("list_leads", ""); err != nil {
		return err
	}
	s.Load(res.Data)
	return nil
}

// Get returns a copy of the lead with id.
func (s *Store) Get(id string) (domain.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Lead{}, false
	}
	return s.leads[idx].Clone(), true
}

// All returns a deep copy of the collection in store order. An empty store
// returns nil.
func (s *Store) All() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.leads) == 0 {
		return nil
	}
	return domain.CloneLeads(s.leads)
}

// Snapshot is All under the name used by rollback tests and tooling.
func (s *Store) Snapshot() []domain.Lead { return s.All() }

// Visible applies the role filter to the current collection. It is
// recomputed on every call.
func (s *Store) Visible() []domain.Lead {
	all := s.All()
	if s.caps != nil && s.caps.Has(domain.PermLeadReadAll) {
		return all
	}
	return visibility.Visible(all, s.who)
}

// Allowed lists the workflow operations the session may perform on id.
func (s *Store) Allowed(id string) []workflow.Op {
	l, ok := s.Get(id)
	if !ok {
		return nil
	}
	return s.machine.Allowed(l, s.who)
}

// InFlight reports whether a mutation for id is unresolved.
func (s *Store) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tails[id]
	return ok
}

// Flush waits until every mutation issued so far resolved. It returns the
// first failure among them.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*Pending, 0, len(s.tails))
	for _, p := range s.tails {
		pending = append(pending, p)
	}
	s.mu.Unlock()
	var first error
	for _, p := range pending {
		if err := p.Wait(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ApplyChange merges one reconciliation change.
func (s *Store) ApplyChange(c realtime.Change) {
	realtime.Apply(s, c)
}

func (s *Store) indexOf(id string) int {
	for i := range s.leads {
		if s.leads[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) stamp() workflow.Stamp {
	return workflow.Stamp{By: s.who, At: s.now().UTC().Format(time.RFC3339), NewID: s.newID}
}

var _ realtime.Sink = (*Store)(nil)
