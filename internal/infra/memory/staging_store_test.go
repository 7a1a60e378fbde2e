package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-schedule-service/internal/domain"
)

func TestStagingStorePutOverwritesAndGetNeverNil(t *testing.T) {
	store := NewStagingStore()

	empty := store.Get(1, "u1")
	if empty == nil || empty.Answers == nil || len(empty.Answers) != 0 {
		t.Fatalf("expected empty submission, got %+v", empty)
	}

	store.Put(1, "u1", &domain.Submission{Answers: []domain.SubmittedAnswer{{QuestionID: "q1"}}})
	store.Put(1, "u1", &domain.Submission{Answers: []domain.SubmittedAnswer{{QuestionID: "q2"}}})

	got := store.Get(1, "u1")
	if len(got.Answers) != 1 || got.Answers[0].QuestionID != "q2" {
		t.Fatalf("expected last write to win, got %+v", got.Answers)
	}

	got.Answers[0].QuestionID = "mutated"
	if store.Get(1, "u1").Answers[0].QuestionID != "q2" {
		t.Fatalf("expected staged submission isolated from readers")
	}
}

func TestStagingStoreDrainOnEmptyIsNoop(t *testing.T) {
	store := NewStagingStore()

	if got := store.DrainParticipations(7); len(got) != 0 {
		t.Fatalf("expected no participations, got %d", len(got))
	}
	if got := store.DrainResults(7); len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
	if got := store.TakeSubmitted(7); len(got) != 0 {
		t.Fatalf("expected no submissions, got %d", len(got))
	}
	if ids := store.SubmissionQuizIDs(); len(ids) != 0 {
		t.Fatalf("expected no staged quizzes, got %v", ids)
	}
	if ids := store.ParticipationQuizIDs(); len(ids) != 0 {
		t.Fatalf("expected no participation quizzes, got %v", ids)
	}
}

func TestStagingStoreTakeSubmittedFinalizesOwners(t *testing.T) {
	store := NewStagingStore()
	store.Put(1, "done", &domain.Submission{Submitted: true})
	store.Put(1, "open", &domain.Submission{})

	taken := store.TakeSubmitted(1)
	if len(taken) != 1 || taken["done"] == nil {
		t.Fatalf("expected only submitted entry, got %v", taken)
	}
	if ids := store.SubmissionQuizIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected quiz still staged for open participant, got %v", ids)
	}
	if store.Put(1, "done", &domain.Submission{}) {
		t.Fatalf("expected late write for finalized participant to be rejected")
	}
	if ids := store.FinalizedOnlyQuizIDs(); len(ids) != 0 {
		t.Fatalf("expected quiz with staged entries not listed as finalized only, got %v", ids)
	}
	if !store.Put(1, "open", &domain.Submission{Submitted: true}) {
		t.Fatalf("expected open participant to keep writing")
	}
}

func TestStagingStoreDrainSealsQuiz(t *testing.T) {
	store := NewStagingStore()
	store.Put(1, "u1", &domain.Submission{})
	store.Put(1, "u2", &domain.Submission{})

	drained := store.DrainSubmissions(1)
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(drained))
	}
	if store.Put(1, "u3", &domain.Submission{}) {
		t.Fatalf("expected writes to sealed quiz rejected")
	}
	if ids := store.SubmissionQuizIDs(); len(ids) != 0 {
		t.Fatalf("expected nothing staged, got %v", ids)
	}

	store.ClearAll(1)
	if !store.Put(1, "u3", &domain.Submission{}) {
		t.Fatalf("expected clear to lift the seal")
	}
}

func TestStagingStoreRestageAllowsRetry(t *testing.T) {
	store := NewStagingStore()
	store.Put(1, "u1", &domain.Submission{Submitted: true})
	taken := store.TakeSubmitted(1)

	store.Restage(1, "u1", taken["u1"])
	if ids := store.FinalizedOnlyQuizIDs(); len(ids) != 0 {
		t.Fatalf("expected restage to clear finalized flag, got %v", ids)
	}
	if got := store.TakeSubmitted(1); len(got) != 1 {
		t.Fatalf("expected restaged submission to be taken again, got %d", len(got))
	}
}

func TestStagingStoreParticipationsAndResults(t *testing.T) {
	store := NewStagingStore()
	store.StageParticipation(3, &domain.Participation{ID: "p1", Username: "u1"})
	store.StageResult(3, &domain.Result{ID: "r1"})
	store.StageResult(3, &domain.Result{ID: "r1"})
	store.StageResult(3, &domain.Result{ID: "r2"})

	if p := store.GetParticipation(3, "u1"); p == nil || p.ID != "p1" {
		t.Fatalf("expected staged participation, got %+v", p)
	}
	if p := store.GetParticipation(3, "nobody"); p != nil {
		t.Fatalf("expected nil participation, got %+v", p)
	}
	if got := store.DrainResults(3); len(got) != 2 {
		t.Fatalf("expected result set semantics, got %d", len(got))
	}
	if got := store.DrainParticipations(3); len(got) != 1 {
		t.Fatalf("expected 1 participation, got %d", len(got))
	}

	store.StageParticipation(3, &domain.Participation{ID: "p2", Username: "u2"})
	store.StageResult(3, &domain.Result{ID: "r3"})
	store.Put(3, "u3", &domain.Submission{})
	store.ClearAll(3)
	if len(store.ParticipationQuizIDs())+len(store.ResultQuizIDs())+len(store.SubmissionQuizIDs()) != 0 {
		t.Fatalf("expected clear to purge all stages")
	}
}

func TestStagingStoreConcurrentPutAndDrain(t *testing.T) {
	store := NewStagingStore()
	const users = 200

	var wg sync.WaitGroup
	drained := make(map[string]int)
	var mu sync.Mutex
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			username := fmt.Sprintf("u%d", i)
			for j := 0; j < 5; j++ {
				store.Put(1, username, &domain.Submission{Submitted: j == 4})
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			for username := range store.TakeSubmitted(1) {
				mu.Lock()
				drained[username]++
				mu.Unlock()
			}
		}
	}()
	wg.Wait()

	for username := range store.TakeSubmitted(1) {
		drained[username]++
	}
	for username, n := range drained {
		if n != 1 {
			t.Fatalf("participant %s finalized %d times", username, n)
		}
	}
}

func TestStagingStoreBookkeepingIsReleased(t *testing.T) {
	store := NewStagingStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.Put(1, "u1", &domain.Submission{Submitted: true})
	store.TakeSubmitted(1)
	if ids := store.FinalizedOnlyQuizIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected quiz 1 tracked for sealing, got %v", ids)
	}

	store.DrainSubmissions(1)
	if ids := store.FinalizedOnlyQuizIDs(); len(ids) != 0 {
		t.Fatalf("expected drain to release finalized set, got %v", ids)
	}
	if n := store.PruneSealed(time.Hour); n != 0 {
		t.Fatalf("expected fresh seal kept, pruned %d", n)
	}
	if store.Put(1, "u2", &domain.Submission{}) {
		t.Fatalf("expected sealed quiz to reject writes")
	}

	now = now.Add(2 * time.Hour)
	if n := store.PruneSealed(time.Hour); n != 1 {
		t.Fatalf("expected expired seal pruned, got %d", n)
	}

	store.Put(2, "u1", &domain.Submission{Submitted: true})
	store.TakeSubmitted(2)
	store.DrainSubmissions(2)
	store.DropSubmissions(2)
	if store.PruneSealed(0) != 0 || len(store.FinalizedOnlyQuizIDs()) != 0 {
		t.Fatalf("expected drop to release all bookkeeping of quiz 2")
	}
}
