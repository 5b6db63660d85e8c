// Package watch keeps exercise run reports live while the learner edits.
// It subscribes to filesystem notifications per exercise file, coalesces
// change bursts with a debounce window and guarantees that only the newest
// run's report is ever delivered to subscribers.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"excheck/internal/domain/verify"
	"excheck/internal/report"
)

// DefaultDebounce is the quiet window used to coalesce rapid successive
// file-change events into one run.
const DefaultDebounce = 300 * time.Millisecond

// Runner executes one verification run with an explicit run token. The
// engine service satisfies this.
type Runner interface {
	RunWithToken(ctx context.Context, exercise verify.Exercise, token uint64) (verify.ExerciseRunReport, error)
}

// Subscription identifies one onChange registration so it can be cancelled.
type Subscription struct {
	exerciseID string
	onChange   func(verify.ExerciseRunReport)
}

// session is the per-exercise watch state. Owned exclusively by the
// Coordinator and mutated only under its lock.
type session struct {
	exercise    verify.Exercise
	path        string
	dir         string
	timer       *time.Timer
	latestToken uint64
	subs        map[*Subscription]struct{}
}

// Coordinator multiplexes filesystem notifications into debounced,
// token-guarded verification runs, one logical in-flight run per exercise.
type Coordinator struct {
	runner   Runner
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	byPath   map[string]string // clean file path -> exercise ID
	dirRefs  map[string]int
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

// Config customizes a Coordinator. Zero values fall back to defaults.
type Config struct {
	Debounce time.Duration
	Logger   *zap.Logger
}

// NewCoordinator constructs a Coordinator around the supplied runner.
func NewCoordinator(runner Runner, cfg Config) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		runner:   runner,
		logger:   cfg.Logger,
		debounce: cfg.Debounce,
		sessions: make(map[string]*session),
		byPath:   make(map[string]string),
		dirRefs:  make(map[string]int),
	}
}

// WatchExercise subscribes onChange to live re-runs of the exercise.
// Multiple subscribers per exercise are supported; the returned Subscription
// is the handle for UnwatchExercise.
func (c *Coordinator) WatchExercise(exercise verify.Exercise, onChange func(verify.ExerciseRunReport)) (*Subscription, error) {
	if exercise.ID == "" {
		return nil, fmt.Errorf("exercise missing id")
	}
	if exercise.FilePath == "" {
		return nil, fmt.Errorf("exercise %s missing file path", exercise.ID)
	}

	sub := &Subscription{
		exerciseID: exercise.ID,
		onChange:   onChange,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[exercise.ID]
	if !ok {
		path := filepath.Clean(exercise.FilePath)
		sess = &session{
			exercise: exercise,
			path:     path,
			dir:      filepath.Dir(path),
			subs:     make(map[*Subscription]struct{}),
		}
		c.sessions[exercise.ID] = sess
		c.byPath[path] = exercise.ID

		if err := c.addDirLocked(sess.dir); err != nil {
			delete(c.sessions, exercise.ID)
			delete(c.byPath, path)
			return nil, err
		}
	}

	sess.subs[sub] = struct{}{}
	return sub, nil
}

// UnwatchExercise cancels a subscription. Removing the last subscriber tears
// down the exercise's watch session and releases its directory watch.
func (c *Coordinator) UnwatchExercise(sub *Subscription) {
	if sub == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sub.exerciseID]
	if !ok {
		return
	}

	delete(sess.subs, sub)
	if len(sess.subs) > 0 {
		return
	}

	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	delete(c.sessions, sub.exerciseID)
	delete(c.byPath, sess.path)
	c.releaseDirLocked(sess.dir)
}

// Start brings up the underlying filesystem watcher and the event loop.
// Idempotent while running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	for dir := range c.dirRefs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	c.watcher = watcher
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.running = true

	go c.run()
	return nil
}

// Stop releases the filesystem watcher and clears all pending debounce
// timers so no scheduled run survives teardown. Subscriptions are kept, so
// a later Start resumes watching the same exercises.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()

	for _, sess := range c.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
			sess.timer = nil
		}
	}

	watcher := c.watcher
	c.watcher = nil
	done := c.done
	c.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			c.logger.Warn("close watcher", zap.Error(err))
		}
	}
	<-done
}

func (c *Coordinator) addDirLocked(dir string) error {
	c.dirRefs[dir]++
	if c.dirRefs[dir] > 1 || c.watcher == nil {
		return nil
	}
	if err := c.watcher.Add(dir); err != nil {
		c.dirRefs[dir]--
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}

func (c *Coordinator) releaseDirLocked(dir string) {
	c.dirRefs[dir]--
	if c.dirRefs[dir] > 0 {
		return
	}
	delete(c.dirRefs, dir)
	if c.watcher != nil {
		if err := c.watcher.Remove(dir); err != nil {
			c.logger.Debug("remove watch", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (c *Coordinator) run() {
	defer close(c.done)

	for {
		c.mu.Lock()
		watcher := c.watcher
		ctx := c.ctx
		c.mu.Unlock()

		if watcher == nil {
			return
		}

		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				// Channel closed: either Stop (ctx ends shortly) or the
				// watcher was re-established; loop to pick up the new one.
				if !c.waitRunning(ctx) {
					return
				}
				continue
			}
			c.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				if !c.waitRunning(ctx) {
					return
				}
				continue
			}
			c.handleWatchError(err)
		}
	}
}

// waitRunning returns false once the coordinator is stopped, pausing briefly
// so a closed channel does not spin the loop during watcher swaps.
func (c *Coordinator) waitRunning(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(10 * time.Millisecond):
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	exerciseID, ok := c.byPath[filepath.Clean(event.Name)]
	if !ok {
		return
	}
	sess, ok := c.sessions[exerciseID]
	if !ok {
		return
	}

	// Reset the debounce window; the run dispatches only after the window
	// elapses with no further events.
	if sess.timer != nil {
		sess.timer.Reset(c.debounce)
		return
	}
	sess.timer = time.AfterFunc(c.debounce, func() {
		c.dispatch(exerciseID)
	})
}

// dispatch captures a fresh run token, runs the pipeline and delivers the
// result unless a newer run started meanwhile. Cancellation is logical: a
// superseded run's transpile is not interrupted, its result is dropped.
func (c *Coordinator) dispatch(exerciseID string) {
	c.mu.Lock()
	sess, ok := c.sessions[exerciseID]
	if !ok || !c.running {
		c.mu.Unlock()
		return
	}
	sess.timer = nil
	sess.latestToken++
	token := sess.latestToken
	exercise := sess.exercise
	ctx := c.ctx
	subs := c.subscribersLocked(sess)
	c.mu.Unlock()

	c.deliver(subs, report.InProgress(exercise.ID, token))

	rep, err := c.runner.RunWithToken(ctx, exercise, token)
	if err != nil {
		c.logger.Warn("verification run aborted",
			zap.String("exercise", exercise.ID),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	sess, ok = c.sessions[exerciseID]
	stale := !ok || sess.latestToken != token
	var current []func(verify.ExerciseRunReport)
	if !stale {
		current = c.subscribersLocked(sess)
	}
	c.mu.Unlock()

	if stale {
		c.logger.Debug("stale run discarded",
			zap.String("exercise", exercise.ID),
			zap.Uint64("token", token))
		return
	}

	c.deliver(current, rep)
}

func (c *Coordinator) subscribersLocked(sess *session) []func(verify.ExerciseRunReport) {
	subs := make([]func(verify.ExerciseRunReport), 0, len(sess.subs))
	for sub := range sess.subs {
		if sub.onChange != nil {
			subs = append(subs, sub.onChange)
		}
	}
	return subs
}

func (c *Coordinator) deliver(subs []func(verify.ExerciseRunReport), rep verify.ExerciseRunReport) {
	for _, onChange := range subs {
		onChange(rep)
	}
}

// handleWatchError logs the notification failure and re-establishes the
// watch; it never propagates to subscribers.
func (c *Coordinator) handleWatchError(err error) {
	c.logger.Error("watch channel error, re-establishing", zap.Error(err))

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	replacement, werr := fsnotify.NewWatcher()
	if werr != nil {
		c.logger.Error("re-establish watcher", zap.Error(werr))
		return
	}
	for dir := range c.dirRefs {
		if aerr := replacement.Add(dir); aerr != nil {
			c.logger.Warn("re-watch directory", zap.String("dir", dir), zap.Error(aerr))
		}
	}

	old := c.watcher
	c.watcher = replacement
	if old != nil {
		_ = old.Close()
	}
}
