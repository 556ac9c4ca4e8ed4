package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"unimem/internal/logging"

	"github.com/google/uuid"
)

const (
	positiveStep    = 0.05
	negativeStep    = 0.10
	decayPeriod     = 7 * 24 * time.Hour
	confidenceFloor = 0.1
	deprecateBelow  = 0.3
	pruneFraction   = 0.10
)

// Options configures a Store.
type Options struct {
	// MaxLearnings triggers pruning once this many learnings are active.
	MaxLearnings int

	// DecayRate is subtracted per idle week.
	DecayRate float64

	// AutoDeprecateThreshold is the application count after which a learning
	// with poor observed benefit is deprecated. Zero disables it.
	AutoDeprecateThreshold int

	Observer Observer
	Logger   *logging.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxLearnings:           1000,
		DecayRate:              0.05,
		AutoDeprecateThreshold: 10,
	}
}

// Store is the in-memory learning ledger with snapshot persistence.
// Indices by type and by entity are rebuilt from the loaded set and never
// persisted.
type Store struct {
	mu sync.RWMutex

	snap Snapshotter
	opts Options
	log  *logging.Logger

	learnings map[string]*Learning
	order     []string                       // insertion order, for stable ranking
	byType    map[string]map[string]struct{} // type -> ids
	byEntity  map[string]map[string]struct{} // entityType:entityId -> ids

	loaded    bool
	dirty     bool
	lastSaved time.Time
	pending   []Event
}

// NewStore creates an empty store. Call Load before use to restore state.
func NewStore(snap Snapshotter, opts Options) *Store {
	def := DefaultOptions()
	if opts.MaxLearnings <= 0 {
		opts.MaxLearnings = def.MaxLearnings
	}
	if opts.DecayRate < 0 {
		opts.DecayRate = def.DecayRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		snap:      snap,
		opts:      opts,
		log:       opts.Logger.For(logging.CategoryLearning),
		learnings: make(map[string]*Learning),
		byType:    make(map[string]map[string]struct{}),
		byEntity:  make(map[string]map[string]struct{}),
	}
}

// snapshot is the persisted form of the whole ledger.
type snapshot struct {
	Version   int         `json:"version"`
	SavedAt   time.Time   `json:"saved_at"`
	Learnings []*Learning `json:"learnings"`
}

// Load replaces in-memory state with the persisted snapshot and rebuilds the
// indices. It is safe to call more than once.
func (s *Store) Load(ctx context.Context) error {
	timer := s.log.StartTimer("Store.Load")
	defer timer.Stop()

	var snap snapshot
	if s.snap != nil {
		data, err := s.snap.Load(ctx)
		if err != nil {
			s.log.Error("Failed to load learning snapshot: %v", err)
			return fmt.Errorf("failed to load learnings: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &snap); err != nil {
				s.log.Error("Corrupt learning snapshot: %v", err)
				return fmt.Errorf("failed to decode learnings: %w", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.learnings = make(map[string]*Learning, len(snap.Learnings))
	s.order = s.order[:0]
	s.byType = make(map[string]map[string]struct{})
	s.byEntity = make(map[string]map[string]struct{})
	for _, l := range snap.Learnings {
		if l == nil || l.ID == "" {
			continue
		}
		s.insertLocked(l)
	}
	s.loaded = true
	s.dirty = false
	s.lastSaved = snap.SavedAt

	s.log.Info("Loaded %d learnings", len(s.learnings))
	return nil
}

// Loaded reports whether Load has completed successfully.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Store) insertLocked(l *Learning) {
	s.learnings[l.ID] = l
	s.order = append(s.order, l.ID)
	addIndex(s.byType, l.Type, l.ID)
	for _, e := range l.Entities {
		addIndex(s.byEntity, e.Key(), l.ID)
	}
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

// findDuplicateLocked returns the active learning with the same type and
// entity set, if any.
func (s *Store) findDuplicateLocked(typ string, entities []Entity) *Learning {
	key := entitySetKey(entities)
	for id := range s.byType[typ] {
		l := s.learnings[id]
		if l != nil && l.Active() && l.EntitySetKey() == key {
			return l
		}
	}
	return nil
}

func (s *Store) activeCountLocked() int {
	n := 0
	for _, l := range s.learnings {
		if l.Active() {
			n++
		}
	}
	return n
}

// Create records a new learning. When an active learning with the same type
// and entity set already exists, the evidence is merged into it instead and
// the existing learning is returned.
func (s *Store) Create(ctx context.Context, nl NewLearning) (Learning, error) {
	if strings.TrimSpace(nl.Type) == "" || strings.TrimSpace(nl.Insight) == "" {
		return Learning{}, fmt.Errorf("%w: type and insight are required", ErrInvalid)
	}

	s.mu.Lock()
	if existing := s.findDuplicateLocked(nl.Type, nl.Entities); existing != nil {
		s.log.Debug("Learning %s already covers type=%s entities=%s, merging evidence", existing.ID, nl.Type, existing.EntitySetKey())
		s.addEvidenceLocked(existing, nl.Evidence)
		s.flushLocked(ctx)
		out := existing.clone()
		events := s.drainLocked()
		s.mu.Unlock()
		s.notify(events)
		return out, nil
	}

	if s.activeCountLocked() >= s.opts.MaxLearnings {
		s.pruneLocked()
	}

	now := s.opts.Now()
	l := &Learning{
		ID:                uuid.New().String(),
		CreatedAt:         now,
		UpdatedAt:         now,
		Type:              nl.Type,
		Insight:           nl.Insight,
		Confidence:        clamp01(nl.Confidence),
		EvidenceCount:     len(nl.Evidence),
		Evidence:          capEvidence(nl.Evidence),
		TriggerConditions: append([]TriggerCondition(nil), nl.TriggerConditions...),
		Entities:          append([]Entity(nil), nl.Entities...),
		ExpectedBenefit:   nl.ExpectedBenefit,
		Status:            StatusActive,
	}
	s.insertLocked(l)
	s.dirty = true
	s.pending = append(s.pending, Event{Kind: EventCreated, Learning: l.clone()})
	s.log.Info("Created learning %s type=%s confidence=%.2f", l.ID, l.Type, l.Confidence)

	s.flushLocked(ctx)
	out := l.clone()
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return out, nil
}

func capEvidence(items []Evidence) []Evidence {
	if len(items) > MaxEvidence {
		items = items[:MaxEvidence]
	}
	return append([]Evidence(nil), items...)
}

// AddEvidence prepends evidence and nudges confidence: up by 0.05 per
// positive item when positives outnumber negatives, otherwise down by 0.10
// per negative item.
func (s *Store) AddEvidence(ctx context.Context, id string, items []Evidence) (Learning, error) {
	s.mu.Lock()
	l, ok := s.learnings[id]
	if !ok {
		s.mu.Unlock()
		return Learning{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.addEvidenceLocked(l, items)
	s.flushLocked(ctx)
	out := l.clone()
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return out, nil
}

func (s *Store) addEvidenceLocked(l *Learning, items []Evidence) {
	merged := make([]Evidence, 0, len(items)+len(l.Evidence))
	merged = append(merged, items...)
	merged = append(merged, l.Evidence...)
	if len(merged) > MaxEvidence {
		merged = merged[:MaxEvidence]
	}
	l.Evidence = merged
	l.EvidenceCount += len(items)

	positives, negatives := 0, 0
	for _, e := range items {
		switch e.Outcome {
		case OutcomePositive:
			positives++
		case OutcomeNegative:
			negatives++
		}
	}
	before := l.Confidence
	if positives > negatives {
		l.Confidence += positiveStep * float64(positives)
	} else {
		l.Confidence -= negativeStep * float64(negatives)
	}
	l.Confidence = clamp01(l.Confidence)
	l.UpdatedAt = s.opts.Now()
	s.dirty = true

	s.log.Debug("Evidence on %s: +%d/-%d confidence %.2f -> %.2f", l.ID, positives, negatives, before, l.Confidence)
	s.pending = append(s.pending, Event{Kind: EventUpdated, Learning: l.clone(), Reason: "evidence"})
}

// RecordApplication notes that a learning was applied and whether it helped.
// ActualBenefit is the running mean of outcomes (1 for success, 0 for
// failure). Once ApplicationCount reaches the auto-deprecate threshold with
// ActualBenefit below 0.3, the learning is deprecated.
func (s *Store) RecordApplication(ctx context.Context, id string, success bool) (Learning, error) {
	s.mu.Lock()
	l, ok := s.learnings[id]
	if !ok {
		s.mu.Unlock()
		return Learning{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sample := 0.0
	if success {
		sample = 1.0
	}
	l.ApplicationCount++
	if l.ActualBenefit == nil {
		v := sample
		l.ActualBenefit = &v
	} else {
		v := *l.ActualBenefit + (sample-*l.ActualBenefit)/float64(l.ApplicationCount)
		l.ActualBenefit = &v
	}
	l.UpdatedAt = s.opts.Now()
	s.dirty = true
	s.pending = append(s.pending, Event{Kind: EventUpdated, Learning: l.clone(), Reason: "application"})

	threshold := s.opts.AutoDeprecateThreshold
	if l.Active() && threshold > 0 && l.ApplicationCount >= threshold && *l.ActualBenefit < deprecateBelow {
		s.deprecateLocked(l, fmt.Sprintf("actual benefit %.2f after %d applications", *l.ActualBenefit, l.ApplicationCount))
	}

	s.flushLocked(ctx)
	out := l.clone()
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return out, nil
}

func (s *Store) deprecateLocked(l *Learning, reason string) {
	if !l.Active() {
		return
	}
	l.Status = StatusDeprecated
	l.UpdatedAt = s.opts.Now()
	s.dirty = true
	s.log.Info("Deprecated learning %s: %s", l.ID, reason)
	s.pending = append(s.pending, Event{Kind: EventDeprecated, Learning: l.clone(), Reason: reason})
}

// Deprecate retires a learning explicitly.
func (s *Store) Deprecate(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	l, ok := s.learnings[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if reason == "" {
		reason = "explicit"
	}
	s.deprecateLocked(l, reason)
	s.flushLocked(ctx)
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return nil
}

// FindRelevant scores active learnings against context text: the sum of the
// weights of matching trigger conditions, times confidence. Zero scores are
// dropped; the top limit are returned, best first.
func (s *Store) FindRelevant(contextText string, limit int) []Scored {
	text := strings.ToLower(contextText)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []Scored
	for _, id := range s.order {
		l := s.learnings[id]
		if l == nil || !l.Active() {
			continue
		}
		weight := 0.0
		for _, tc := range l.TriggerConditions {
			v := strings.ToLower(strings.TrimSpace(tc.Value))
			if v != "" && strings.Contains(text, v) {
				weight += tc.Weight
			}
		}
		score := weight * l.Confidence
		if score <= 0 {
			continue
		}
		scored = append(scored, Scored{Learning: l.clone(), Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// ApplyDecay lowers the confidence of every active learning idle for more
// than seven days by DecayRate x floor(idleDays/7), never below 0.1. Decay
// leaves UpdatedAt alone, so each call charges the full idle weeks again:
// calling it more often than weekly compounds the penalty. It returns the
// number of learnings decayed.
func (s *Store) ApplyDecay(ctx context.Context) int {
	timer := s.log.StartTimer("Store.ApplyDecay")
	defer timer.Stop()

	s.mu.Lock()
	now := s.opts.Now()
	decayed := 0
	for _, id := range s.order {
		l := s.learnings[id]
		if l == nil || !l.Active() {
			continue
		}
		idle := now.Sub(l.UpdatedAt)
		if idle <= decayPeriod || l.Confidence <= confidenceFloor {
			continue
		}
		weeks := math.Floor(idle.Hours() / 24 / 7)
		next := math.Max(confidenceFloor, l.Confidence-s.opts.DecayRate*weeks)
		if next == l.Confidence {
			continue
		}
		l.Confidence = next
		decayed++
		s.dirty = true
	}
	if decayed > 0 {
		s.log.Info("Decayed confidence on %d learnings", decayed)
	}
	s.flushLocked(ctx)
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return decayed
}

// PruneOldLearnings deprecates the lowest-ranked tenth (rounded up) of the
// active learnings, ranked by confidence x benefit / age. It returns the
// ids deprecated.
func (s *Store) PruneOldLearnings(ctx context.Context) []string {
	s.mu.Lock()
	ids := s.pruneLocked()
	s.flushLocked(ctx)
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return ids
}

func (s *Store) pruneLocked() []string {
	now := s.opts.Now()
	type ranked struct {
		l    *Learning
		rank float64
	}
	var active []ranked
	for _, id := range s.order {
		l := s.learnings[id]
		if l == nil || !l.Active() {
			continue
		}
		ageMs := float64(now.Sub(l.CreatedAt).Milliseconds())
		if ageMs < 1 {
			ageMs = 1
		}
		active = append(active, ranked{l: l, rank: l.Confidence * l.Benefit() / ageMs})
	}
	if len(active) == 0 {
		return nil
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].rank < active[j].rank })

	n := int(math.Ceil(float64(len(active)) * pruneFraction))
	ids := make([]string, 0, n)
	for _, r := range active[:n] {
		s.deprecateLocked(r.l, "pruned")
		ids = append(ids, r.l.ID)
	}
	s.log.Info("Pruned %d of %d active learnings", n, len(active))
	return ids
}

// Get returns a learning by id.
func (s *Store) Get(id string) (Learning, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.learnings[id]
	if !ok {
		return Learning{}, false
	}
	return l.clone(), true
}

// List returns learnings matching the filter in creation order.
func (s *Store) List(f Filter) []Learning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order
	if f.Type != "" {
		ids = ids[:0:0]
		for _, id := range s.order {
			if _, ok := s.byType[f.Type][id]; ok {
				ids = append(ids, id)
			}
		}
	}
	var out []Learning
	for _, id := range ids {
		l := s.learnings[id]
		if l == nil || (f.Status != "" && l.Status != f.Status) {
			continue
		}
		out = append(out, l.clone())
	}
	return out
}

// ByEntity returns active learnings concerning the given entity.
func (s *Store) ByEntity(entityType, entityID string) []Learning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.byEntity[Entity{Type: entityType, ID: entityID}.Key()]
	var out []Learning
	for _, id := range s.order {
		if _, ok := set[id]; !ok {
			continue
		}
		if l := s.learnings[id]; l != nil && l.Active() {
			out = append(out, l.clone())
		}
	}
	return out
}

// Stats summarizes the ledger.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByType: make(map[string]int), LastSaved: s.lastSaved}
	sum := 0.0
	for _, l := range s.learnings {
		st.Total++
		if l.Active() {
			st.Active++
			sum += l.Confidence
			st.ByType[l.Type]++
		} else {
			st.Deprecated++
		}
	}
	if st.Active > 0 {
		st.AvgConfidence = sum / float64(st.Active)
	}
	return st
}

// Flush persists pending changes. Failures are reported to the observer and
// returned.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	err := s.flushLocked(ctx)
	events := s.drainLocked()
	s.mu.Unlock()
	s.notify(events)
	return err
}

// flushLocked writes the full ledger when dirty. A failed save leaves the
// store dirty so the next mutation retries.
func (s *Store) flushLocked(ctx context.Context) error {
	if !s.dirty || s.snap == nil {
		return nil
	}
	now := s.opts.Now()
	snap := snapshot{Version: 1, SavedAt: now, Learnings: make([]*Learning, 0, len(s.order))}
	for _, id := range s.order {
		snap.Learnings = append(snap.Learnings, s.learnings[id])
	}
	data, err := json.Marshal(snap)
	if err == nil {
		err = s.snap.Save(ctx, data, len(snap.Learnings))
	}
	if err != nil {
		s.log.Error("Failed to persist learnings: %v", err)
		s.pending = append(s.pending, Event{Kind: EventPersistFailed, Err: err})
		return err
	}
	s.dirty = false
	s.lastSaved = now
	return nil
}

func (s *Store) drainLocked() []Event {
	events := s.pending
	s.pending = nil
	return events
}

func (s *Store) notify(events []Event) {
	if s.opts.Observer == nil {
		return
	}
	for _, e := range events {
		s.opts.Observer.Observe(e)
	}
}

// Close flushes and releases the snapshotter.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if s.snap != nil {
		if cerr := s.snap.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
