package memory

import (
	"sort"
	"sync"
	"time"

	"quiz-schedule-service/internal/domain"
)

const shardCount = 32

// StagingStore is an in-memory implementation of app.StagingRepository. It keeps three
// independent maps (submissions, participations awaiting delivery, results awaiting
// statistics), each split into shards by quiz id so request goroutines for different
// quizzes do not contend on one lock.
type StagingStore struct {
	submissions    [shardCount]*submissionShard
	participations *shardedMap[*domain.Participation]
	results        *shardedMap[*domain.Result]
	now            func() time.Time
}

type submissionShard struct {
	mu     sync.RWMutex
	staged map[int64]map[string]*domain.Submission
	// finalized participants per quiz; their writes are rejected until ClearAll or Restage.
	finalized map[int64]map[string]struct{}
	// sealed quizzes were drained wholesale after they ended, with the time of the drain.
	sealed map[int64]time.Time
}

func NewStagingStore() *StagingStore {
	s := &StagingStore{
		participations: newShardedMap[*domain.Participation](),
		results:        newShardedMap[*domain.Result](),
		now:            time.Now,
	}
	for i := 0; i < shardCount; i++ {
		s.submissions[i] = &submissionShard{
			staged:    make(map[int64]map[string]*domain.Submission),
			finalized: make(map[int64]map[string]struct{}),
			sealed:    make(map[int64]time.Time),
		}
	}
	return s
}

func (s *StagingStore) submissionShard(quizID int64) *submissionShard {
	return s.submissions[shardIndex(quizID)]
}

// Put stages a copy of the submission, replacing any earlier one for the participant.
// It reports false when the participant was already finalized or the quiz was sealed.
func (s *StagingStore) Put(quizID int64, username string, submission *domain.Submission) bool {
	if submission == nil || username == "" {
		return false
	}
	sh := s.submissionShard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.sealed[quizID]; ok {
		return false
	}
	if _, ok := sh.finalized[quizID][username]; ok {
		return false
	}
	users, ok := sh.staged[quizID]
	if !ok {
		users = make(map[string]*domain.Submission)
		sh.staged[quizID] = users
	}
	users[username] = submission.Clone()
	return true
}

// Get returns a copy of the staged submission or an empty one. Never nil.
func (s *StagingStore) Get(quizID int64, username string) *domain.Submission {
	sh := s.submissionShard(quizID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if submission, ok := sh.staged[quizID][username]; ok {
		return submission.Clone()
	}
	return domain.NewEmptySubmission(quizID, username)
}

// DrainSubmissions removes every staged submission of the quiz and seals it.
func (s *StagingStore) DrainSubmissions(quizID int64) map[string]*domain.Submission {
	sh := s.submissionShard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	users := sh.staged[quizID]
	delete(sh.staged, quizID)
	delete(sh.finalized, quizID)
	sh.sealed[quizID] = s.now()
	if users == nil {
		return map[string]*domain.Submission{}
	}
	return users
}

// DropSubmissions removes staged submissions and all bookkeeping without sealing the quiz.
func (s *StagingStore) DropSubmissions(quizID int64) int {
	sh := s.submissionShard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n := len(sh.staged[quizID])
	delete(sh.staged, quizID)
	delete(sh.finalized, quizID)
	delete(sh.sealed, quizID)
	return n
}

// PruneSealed lifts seals older than retention and reports how many were removed.
func (s *StagingStore) PruneSealed(retention time.Duration) int {
	cutoff := s.now().Add(-retention)
	n := 0
	for _, sh := range s.submissions {
		sh.mu.Lock()
		for quizID, sealedAt := range sh.sealed {
			if sealedAt.Before(cutoff) {
				delete(sh.sealed, quizID)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// TakeSubmitted removes the submissions already marked submitted and finalizes their owners.
// Unsubmitted entries stay staged.
func (s *StagingStore) TakeSubmitted(quizID int64) map[string]*domain.Submission {
	sh := s.submissionShard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	taken := make(map[string]*domain.Submission)
	users, ok := sh.staged[quizID]
	if !ok {
		return taken
	}
	for username, submission := range users {
		if !submission.Submitted {
			continue
		}
		taken[username] = submission
		delete(users, username)
		s.markFinalizedLocked(sh, quizID, username)
	}
	if len(users) == 0 {
		delete(sh.staged, quizID)
	}
	return taken
}

// Restage puts back a submission whose finalization failed so a later pass retries it.
// The write is dropped if a newer submission was staged meanwhile.
func (s *StagingStore) Restage(quizID int64, username string, submission *domain.Submission) {
	sh := s.submissionShard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if finalized, ok := sh.finalized[quizID]; ok {
		delete(finalized, username)
	}
	users, ok := sh.staged[quizID]
	if !ok {
		users = make(map[string]*domain.Submission)
		sh.staged[quizID] = users
	}
	if _, exists := users[username]; exists {
		return
	}
	users[username] = submission
}

func (s *StagingStore) markFinalizedLocked(sh *submissionShard, quizID int64, username string) {
	users, ok := sh.finalized[quizID]
	if !ok {
		users = make(map[string]struct{})
		sh.finalized[quizID] = users
	}
	users[username] = struct{}{}
}

// SubmissionQuizIDs lists quizzes with staged submissions.
func (s *StagingStore) SubmissionQuizIDs() []int64 {
	var ids []int64
	for _, sh := range s.submissions {
		sh.mu.RLock()
		for quizID, users := range sh.staged {
			if len(users) > 0 {
				ids = append(ids, quizID)
			}
		}
		sh.mu.RUnlock()
	}
	sortIDs(ids)
	return ids
}

// FinalizedOnlyQuizIDs lists quizzes that still track finalized participants but have
// nothing staged, so a pass can seal them once they end.
func (s *StagingStore) FinalizedOnlyQuizIDs() []int64 {
	var ids []int64
	for _, sh := range s.submissions {
		sh.mu.RLock()
		for quizID, users := range sh.finalized {
			if len(users) > 0 && len(sh.staged[quizID]) == 0 {
				ids = append(ids, quizID)
			}
		}
		sh.mu.RUnlock()
	}
	sortIDs(ids)
	return ids
}

// StageParticipation queues a finalized participation for delivery to its owner.
func (s *StagingStore) StageParticipation(quizID int64, participation *domain.Participation) {
	if participation == nil {
		return
	}
	s.participations.put(quizID, participation.Username, participation)
}

// GetParticipation returns the participation awaiting delivery, or nil.
func (s *StagingStore) GetParticipation(quizID int64, username string) *domain.Participation {
	participation, _ := s.participations.get(quizID, username)
	return participation
}

func (s *StagingStore) DrainParticipations(quizID int64) map[string]*domain.Participation {
	return s.participations.drain(quizID)
}

func (s *StagingStore) ParticipationQuizIDs() []int64 {
	return s.participations.quizIDs()
}

// StageResult queues a result for the next statistics flush.
func (s *StagingStore) StageResult(quizID int64, result *domain.Result) {
	if result == nil {
		return
	}
	s.results.put(quizID, result.ID, result)
}

// DrainResults removes and returns the quiz's pending results.
func (s *StagingStore) DrainResults(quizID int64) []*domain.Result {
	drained := s.results.drain(quizID)
	out := make([]*domain.Result, 0, len(drained))
	for _, result := range drained {
		out = append(out, result)
	}
	return out
}

func (s *StagingStore) ResultQuizIDs() []int64 {
	return s.results.quizIDs()
}

// ClearAll purges all staged data and bookkeeping for a quiz.
func (s *StagingStore) ClearAll(quizID int64) {
	sh := s.submissionShard(quizID)
	sh.mu.Lock()
	delete(sh.staged, quizID)
	delete(sh.finalized, quizID)
	delete(sh.sealed, quizID)
	sh.mu.Unlock()

	s.participations.drain(quizID)
	s.results.drain(quizID)
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[int64]map[string]V
}

type shardedMap[V any] struct {
	shards [shardCount]*shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := 0; i < shardCount; i++ {
		m.shards[i] = &shard[V]{entries: make(map[int64]map[string]V)}
	}
	return m
}

func (m *shardedMap[V]) shard(quizID int64) *shard[V] {
	return m.shards[shardIndex(quizID)]
}

func (m *shardedMap[V]) put(quizID int64, key string, value V) {
	sh := m.shard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	inner, ok := sh.entries[quizID]
	if !ok {
		inner = make(map[string]V)
		sh.entries[quizID] = inner
	}
	inner[key] = value
}

func (m *shardedMap[V]) get(quizID int64, key string) (V, bool) {
	sh := m.shard(quizID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	value, ok := sh.entries[quizID][key]
	return value, ok
}

func (m *shardedMap[V]) drain(quizID int64) map[string]V {
	sh := m.shard(quizID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	inner := sh.entries[quizID]
	delete(sh.entries, quizID)
	if inner == nil {
		return map[string]V{}
	}
	return inner
}

func (m *shardedMap[V]) quizIDs() []int64 {
	var ids []int64
	for _, sh := range m.shards {
		sh.mu.RLock()
		for quizID, inner := range sh.entries {
			if len(inner) > 0 {
				ids = append(ids, quizID)
			}
		}
		sh.mu.RUnlock()
	}
	sortIDs(ids)
	return ids
}

func shardIndex(quizID int64) int {
	idx := quizID % shardCount
	if idx < 0 {
		idx = -idx
	}
	return int(idx)
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
