package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending  = "pending"
	JobStatusRunning  = "running"
	JobStatusComplete = "complete"
	JobStatusFailed   = "failed"
)

const (
	JobKindFlashcards    = "flashcards"
	JobKindQuiz          = "quiz"
	JobKindQuizFromCards = "quiz-from-flashcards"
)

// GenerationJob tracks one background generation request that clients
// poll. Result holds the same payload the synchronous endpoint would
// have returned.
type GenerationJob struct {
	ID         string         `json:"jobId"`
	Kind       string         `json:"kind"`
	DocumentID int64          `json:"documentId"`
	Status     string         `json:"status"`
	Stage      string         `json:"stage,omitempty"`
	Message    string         `json:"message,omitempty"`
	Percent    int            `json:"percent"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// JobManager keeps generation jobs in memory. Every read hands out a
// clone so handlers never see a job mid-update.
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*GenerationJob
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*GenerationJob),
	}
}

func (m *JobManager) Create(kind string, documentID int64) (string, *GenerationJob) {
	now := time.Now().UTC()
	job := &GenerationJob{
		ID:         uuid.NewString(),
		Kind:       kind,
		DocumentID: documentID,
		Status:     JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) Get(id string) (*GenerationJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkRunning(id string) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusRunning
	})
}

func (m *JobManager) UpdateProgress(id, stage, message string, current, total int) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusRunning
		job.Stage = stage
		job.Message = message
		job.Percent = percent(current, total)
	})
}

func (m *JobManager) Complete(id string, result map[string]any) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusComplete
		job.Stage = "complete"
		job.Message = "Generation complete"
		job.Percent = 100
		job.Result = result
		job.Error = ""
	})
}

func (m *JobManager) Fail(id, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "generation error"
	}
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusFailed
		job.Stage = "error"
		job.Message = msg
		job.Error = msg
	})
}

func (m *JobManager) withJob(id string, fn func(job *GenerationJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *GenerationJob) clone() *GenerationJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	if job.Result != nil {
		copyJob.Result = make(map[string]any, len(job.Result))
		for k, v := range job.Result {
			copyJob.Result[k] = v
		}
	}
	return &copyJob
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
