package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/progress"
)

type jobRecord struct {
	job     Job
	tracker *progress.Tracker
}

// JobStore keeps conversion jobs in memory for the lifetime of the server.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*jobRecord
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*jobRecord),
	}
}

// Create registers a queued job and returns it with its progress tracker.
func (s *JobStore) Create(req ConvertRequest, now time.Time) (Job, *progress.Tracker) {
	job := Job{
		ID:        uuid.NewString(),
		State:     JobQueued,
		Request:   req,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
	rec := &jobRecord{job: job, tracker: &progress.Tracker{}}

	s.mu.Lock()
	s.jobs[job.ID] = rec
	s.mu.Unlock()

	return job, rec.tracker
}

// Get returns a snapshot of the job including its latest progress.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	job := rec.job
	job.Progress = rec.tracker.Snapshot()
	return job, true
}

// List returns every job, oldest first.
func (s *JobStore) List() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		job := rec.job
		job.Progress = rec.tracker.Snapshot()
		out = append(out, job)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Start and Finish leave jobs in a terminal state untouched.
func (s *JobStore) Start(id string, now time.Time) {
	s.update(id, now, func(j *Job) { j.State = JobRunning })
}

func (s *JobStore) Finish(id string, rep *convert.Report, err error, now time.Time) {
	s.update(id, now, func(j *Job) {
		if err != nil {
			j.State = JobFailed
			j.Error = errorBody(err)
			return
		}
		j.State = JobSucceeded
		j.Status = rep.Status
		j.Report = rep
	})
}

func (s *JobStore) update(id string, now time.Time, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok || rec.job.State.Done() {
		return
	}
	fn(&rec.job)
	rec.job.UpdatedAt = now.Unix()
}
