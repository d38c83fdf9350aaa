package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github/itish2003/pdfrag/models"
)

const (
	jobQueueSize   = 16
	maxTrackedJobs = 100
	watchDebounce  = 2 * time.Second
)

// ErrQueueFull is returned by Submit when too many jobs are waiting.
var ErrQueueFull = errors.New("indexing queue is full")

// CorpusIndex is what indexing needs from the vector index.
type CorpusIndex interface {
	Upsert(ctx context.Context, chunks []models.Chunk) (string, error)
	Replace(ctx context.Context, chunks []models.Chunk) (string, error)
}

// FileIndexingService ingests the corpus folder into the vector index. Runs
// are serialised: synchronous calls and queued jobs never overlap.
type FileIndexingService struct {
	files    *FileActions
	ingestor *Ingestor
	index    CorpusIndex
	log      logrus.FieldLogger

	runMu    sync.Mutex
	debounce time.Duration

	queue   chan string
	jobsMu  sync.Mutex
	jobs    map[string]*models.JobStatus
	order   []string
	started sync.Once
}

// NewFileIndexingService creates a new indexing service.
func NewFileIndexingService(files *FileActions, ingestor *Ingestor, index CorpusIndex, log logrus.FieldLogger) *FileIndexingService {
	return &FileIndexingService{
		files:    files,
		ingestor: ingestor,
		index:    index,
		log:      log.WithField("component", "indexer"),
		debounce: watchDebounce,
		queue:    make(chan string, jobQueueSize),
		jobs:     make(map[string]*models.JobStatus),
	}
}

// Index ingests every PDF under the corpus folder. With reset the index is
// rebuilt from scratch into a new generation; otherwise chunks are upserted.
// On failure the previously active index is left as it was.
func (s *FileIndexingService) Index(ctx context.Context, reset bool) (models.IndexSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.log.Infof("INDEXER: Starting directory scan for: %s (reset=%t)", s.files.CorpusDir, reset)
	files, err := ListCorpus(s.files.CorpusDir)
	if err != nil {
		return models.IndexSummary{}, err
	}
	s.log.Infof("INDEXER: Found %d PDF files.", len(files))

	chunks, err := s.ingestor.Ingest(files)
	if err != nil {
		return models.IndexSummary{}, err
	}

	var generation string
	if reset {
		generation, err = s.index.Replace(ctx, chunks)
	} else {
		generation, err = s.index.Upsert(ctx, chunks)
	}
	if err != nil {
		return models.IndexSummary{}, fmt.Errorf("could not write vector index: %w", err)
	}

	summary := models.IndexSummary{
		Files:      len(files),
		Chunks:     len(chunks),
		Generation: generation,
		Reset:      reset,
	}
	s.log.Infof("INDEXER: Indexed %d chunks from %d files into %s.", summary.Chunks, summary.Files, generation)
	return summary, nil
}

// Rebuild is Index with reset.
func (s *FileIndexingService) Rebuild(ctx context.Context) (models.IndexSummary, error) {
	return s.Index(ctx, true)
}

// IngestFile stores an uploaded PDF in the corpus folder and queues an index
// run.
func (s *FileIndexingService) IngestFile(filename string, r io.Reader, reset bool) (models.JobStatus, error) {
	path, err := s.files.SavePDF(filename, r)
	if err != nil {
		return models.JobStatus{}, err
	}
	s.log.Infof("INDEXER: Saved upload %s", path)
	return s.Submit(reset)
}

// RemoveFile deletes a PDF from the corpus folder and queues a rebuild so its
// chunks leave the index.
func (s *FileIndexingService) RemoveFile(filename string) (models.JobStatus, error) {
	if err := s.files.DeletePDF(filename); err != nil {
		return models.JobStatus{}, err
	}
	s.log.Infof("INDEXER: Removed %s from the corpus", filename)
	return s.Submit(true)
}

// Start runs the job worker until ctx is cancelled.
func (s *FileIndexingService) Start(ctx context.Context) {
	s.started.Do(func() {
		go s.worker(ctx)
	})
}

func (s *FileIndexingService) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("INDEXER: Context cancelled, shutting down job worker.")
			return
		case id := <-s.queue:
			s.runJob(ctx, id)
		}
	}
}

func (s *FileIndexingService) runJob(ctx context.Context, id string) {
	reset := false
	s.updateJob(id, func(j *models.JobStatus) {
		j.State = models.JobRunning
		reset = j.Reset
	})

	summary, err := s.Index(ctx, reset)

	s.updateJob(id, func(j *models.JobStatus) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		if err != nil {
			j.State = models.JobFailed
			j.Error = err.Error()
			return
		}
		j.State = models.JobDone
		j.Summary = &summary
	})
	if err != nil {
		s.log.Errorf("INDEXER ERROR: Job %s failed: %v", id, err)
	}
}

// Submit queues an index run and returns immediately.
func (s *FileIndexingService) Submit(reset bool) (models.JobStatus, error) {
	job := &models.JobStatus{
		ID:       uuid.NewString(),
		Reset:    reset,
		State:    models.JobQueued,
		QueuedAt: time.Now().UTC(),
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.pruneLocked()
	snapshot := *job
	s.jobsMu.Unlock()

	select {
	case s.queue <- job.ID:
		s.log.Infof("INDEXER: Queued job %s (reset=%t)", job.ID, reset)
		return snapshot, nil
	default:
		s.jobsMu.Lock()
		delete(s.jobs, job.ID)
		s.jobsMu.Unlock()
		return models.JobStatus{}, ErrQueueFull
	}
}

// Status reports a job by id.
func (s *FileIndexingService) Status(id string) (models.JobStatus, bool) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.JobStatus{}, false
	}
	return *job, true
}

func (s *FileIndexingService) updateJob(id string, fn func(j *models.JobStatus)) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
	}
}

// pruneLocked forgets the oldest finished jobs beyond maxTrackedJobs.
func (s *FileIndexingService) pruneLocked() {
	if len(s.order) <= maxTrackedJobs {
		return
	}
	kept := s.order[:0]
	excess := len(s.order) - maxTrackedJobs
	for _, id := range s.order {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		finished := job.State == models.JobDone || job.State == models.JobFailed
		if excess > 0 && finished {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// WatchDirectory watches the corpus folder and queues index runs when PDFs
// change. Bursts of events are debounced. New PDFs queue an additive run;
// an edit, removal or rename of a known PDF queues a reset so its stale
// chunks are dropped. Blocks until ctx is cancelled.
func (s *FileIndexingService) WatchDirectory(ctx context.Context) {
	dirPath := s.files.CorpusDir
	log := s.log.WithField("component", "watcher")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorf("WATCHER ERROR: Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	// known holds PDFs already in the corpus; fresh those created since the
	// last submitted run, whose follow-up writes are part of the creation.
	known := make(map[string]bool)
	fresh := make(map[string]bool)

	addTree := func(root string) (found int) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() {
				if isPDF(path) {
					known[path] = true
					found++
				}
				return nil
			}
			if err := watcher.Add(path); err != nil {
				log.Errorf("WATCHER ERROR: Failed to add path to watcher: %v", err)
			}
			return nil
		})
		return found
	}
	addTree(dirPath)
	log.Infof("WATCHER: Watching directory: %s (%d PDFs)", dirPath, len(known))

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending bool
		reset   bool
	)
	arm := func() {
		pending = true
		if timer == nil {
			timer = time.NewTimer(s.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.debounce)
		}
		fire = timer.C
	}
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if addTree(event.Name) > 0 {
						log.Infof("WATCHER: New folder with PDFs: %s", event.Name)
						arm()
					}
					continue
				}
			}
			if !isPDF(event.Name) {
				continue
			}
			log.Debugf("WATCHER EVENT: %s", event)

			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				log.Infof("WATCHER: File removed/renamed: %s", event.Name)
				delete(known, event.Name)
				delete(fresh, event.Name)
				reset = true
			case event.Has(fsnotify.Create):
				if known[event.Name] && !fresh[event.Name] {
					log.Infof("WATCHER: File replaced: %s", event.Name)
					reset = true
				} else {
					log.Infof("WATCHER: File created: %s", event.Name)
					known[event.Name] = true
					fresh[event.Name] = true
				}
			case event.Has(fsnotify.Write):
				log.Infof("WATCHER: File modified: %s", event.Name)
				if !fresh[event.Name] {
					known[event.Name] = true
					reset = true
				}
			default:
				continue
			}
			arm()

		case <-fire:
			fire = nil
			if !pending {
				continue
			}
			if _, err := s.Submit(reset); err != nil {
				log.Errorf("WATCHER ERROR: Could not queue index run: %v", err)
				timer.Reset(s.debounce)
				fire = timer.C
				continue
			}
			pending, reset = false, false
			clear(fresh)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("WATCHER ERROR: %v", err)

		case <-ctx.Done():
			log.Info("WATCHER: Context cancelled, shutting down watcher.")
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
