package agent

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/logger"
	"github.com/arvlabs/arv/pkg/telemetry"
)

// DefaultDeadline bounds one reviewer run end to end.
const DefaultDeadline = 20 * time.Minute

// termGracePeriod is how long a stopped subprocess gets between SIGTERM and
// SIGKILL.
const termGracePeriod = 2 * time.Second

// defaultRetryDelays are the spawn retry backoffs. Retries apply only to
// spawn failures, never to a process that started and then failed.
var defaultRetryDelays = []time.Duration{time.Second, 2 * time.Second}

// maxActivityLine clips one stdout line before it becomes an activity entry.
const maxActivityLine = 200

// Result is the terminal outcome of one reviewer run. Whether the reviewer
// actually submitted is decided by the lifecycle from the session store;
// the Runner only reports process-level facts.
type Result struct {
	Err       error
	TimedOut  bool
	Cancelled bool
	Duration  time.Duration
}

// RunSpec describes one reviewer subprocess to launch.
type RunSpec struct {
	SessionID  string
	Model      string
	ClientKind string
	CLIPath    string
	Prompt     string
	WorkDir    string
	Deadline   time.Duration
}

// RuntimeInfo is a snapshot of a reviewer's output streams.
type RuntimeInfo struct {
	Running    bool       `json:"running"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	Activities []Activity `json:"activities"`
}

// Runner supervises reviewer subprocesses, one per (session, model).
type Runner struct {
	mu          sync.Mutex
	procs       map[string]*process
	bus         *events.Bus
	retryDelays []time.Duration
}

// NewRunner creates a Runner publishing activity to the given bus.
func NewRunner(bus *events.Bus) *Runner {
	return &Runner{
		procs:       make(map[string]*process),
		bus:         bus,
		retryDelays: defaultRetryDelays,
	}
}

type process struct {
	spec     RunSpec
	stdout   *ringBuffer
	stderr   *ringBuffer
	activity *activityBuffer

	mu      sync.Mutex
	running bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	scanners sync.WaitGroup
}

func procKey(sessionID, model string) string {
	return sessionID + "/" + model
}

// Start launches one reviewer run. onExit is invoked exactly once from the
// supervising goroutine when the run reaches a terminal outcome.
func (r *Runner) Start(ctx context.Context, spec RunSpec, onExit func(Result)) error {
	trigger, err := TriggerFor(spec.ClientKind)
	if err != nil {
		return err
	}
	if spec.Deadline <= 0 {
		spec.Deadline = DefaultDeadline
	}

	proc := &process{
		spec:     spec,
		stdout:   newRingBuffer(RingBufferSize),
		stderr:   newRingBuffer(RingBufferSize),
		activity: newActivityBuffer(ActivityBufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	key := procKey(spec.SessionID, spec.Model)
	r.mu.Lock()
	if existing, ok := r.procs[key]; ok && existing.isRunning() {
		r.mu.Unlock()
		return errors.New(errors.ErrCodeConflict,
			"reviewer already running: "+spec.Model)
	}
	r.procs[key] = proc
	r.mu.Unlock()

	go r.supervise(ctx, trigger, proc, onExit)
	return nil
}

// Stop asks a running reviewer to exit. SIGTERM first, SIGKILL after the
// grace period. Returns false when no run is active.
func (r *Runner) Stop(sessionID, model string) bool {
	r.mu.Lock()
	proc, ok := r.procs[procKey(sessionID, model)]
	r.mu.Unlock()
	if !ok || !proc.isRunning() {
		return false
	}
	proc.stop()
	return true
}

// StopSession stops every running reviewer of a session and waits for them
// to exit.
func (r *Runner) StopSession(sessionID string) {
	r.mu.Lock()
	var targets []*process
	for key, proc := range r.procs {
		if strings.HasPrefix(key, sessionID+"/") && proc.isRunning() {
			targets = append(targets, proc)
		}
	}
	r.mu.Unlock()

	for _, proc := range targets {
		proc.stop()
	}
	for _, proc := range targets {
		<-proc.done
	}
}

// Runtime returns the retained output of a reviewer run, including finished
// ones. Nil when the model never ran.
func (r *Runner) Runtime(sessionID, model string) *RuntimeInfo {
	r.mu.Lock()
	proc, ok := r.procs[procKey(sessionID, model)]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return &RuntimeInfo{
		Running:    proc.isRunning(),
		Stdout:     proc.stdout.String(),
		Stderr:     proc.stderr.String(),
		Activities: proc.activity.List(),
	}
}

// RunningCount reports how many reviewers of a session are still running.
func (r *Runner) RunningCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key, proc := range r.procs {
		if strings.HasPrefix(key, sessionID+"/") && proc.isRunning() {
			count++
		}
	}
	return count
}

func (r *Runner) supervise(ctx context.Context, trigger Trigger, proc *process, onExit func(Result)) {
	defer close(proc.done)
	started := time.Now()

	plan := trigger.Build(&TriggerSpec{
		Model:   proc.spec.Model,
		CLIPath: proc.spec.CLIPath,
		Prompt:  proc.spec.Prompt,
	})

	runCtx, cancel := context.WithTimeout(ctx, proc.spec.Deadline)
	defer cancel()

	cmd, err := r.spawn(runCtx, plan, proc)
	if err != nil {
		logger.Error("Reviewer spawn failed",
			zap.String("session_id", proc.spec.SessionID),
			zap.String("model", proc.spec.Model),
			zap.String("client_kind", proc.spec.ClientKind),
			zap.Error(err),
		)
		telemetry.GetMetrics().RecordReviewerRun(context.Background(),
			proc.spec.Model, false, time.Since(started).Seconds())
		onExit(Result{
			Err:      errors.Wrap(errors.ErrCodeRunnerSpawn, "failed to spawn reviewer", err),
			Duration: time.Since(started),
		})
		return
	}

	proc.mu.Lock()
	proc.running = true
	proc.mu.Unlock()

	// Watch for cancellation and deadline alongside the process wait. The
	// scanners must drain before Wait closes the pipes.
	waitErr := make(chan error, 1)
	go func() {
		proc.scanners.Wait()
		waitErr <- cmd.Wait()
	}()

	var result Result
	select {
	case err := <-waitErr:
		result.Err = err
	case <-proc.stopCh:
		result.Cancelled = true
		terminate(cmd)
		result.Err = <-waitErr
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.Err = errors.New(errors.ErrCodeRunnerTimeout,
				"reviewer exceeded deadline")
		} else {
			result.Cancelled = true
		}
		terminate(cmd)
		<-waitErr
	}

	proc.mu.Lock()
	proc.running = false
	proc.mu.Unlock()

	result.Duration = time.Since(started)
	success := result.Err == nil && !result.TimedOut && !result.Cancelled
	telemetry.GetMetrics().RecordReviewerRun(context.Background(),
		proc.spec.Model, success, result.Duration.Seconds())
	logger.Info("Reviewer run finished",
		zap.String("session_id", proc.spec.SessionID),
		zap.String("model", proc.spec.Model),
		zap.Duration("duration", result.Duration),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("cancelled", result.Cancelled),
		zap.Error(result.Err),
	)
	onExit(result)
}

// spawn starts the subprocess, retrying only spawn failures with the
// configured backoff.
func (r *Runner) spawn(ctx context.Context, plan *CommandPlan, proc *process) (*exec.Cmd, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		cmd := exec.Command(plan.Path, plan.Args...)
		if proc.spec.WorkDir != "" {
			cmd.Dir = proc.spec.WorkDir
		}
		// Own process group so termination reaches the whole tree
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if plan.Stdin != "" {
			cmd.Stdin = strings.NewReader(plan.Stdin)
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}

		err = cmd.Start()
		if err == nil {
			proc.scanners.Add(2)
			go r.scanStdout(proc, stdout)
			go func() {
				defer proc.scanners.Done()
				scanner := bufio.NewScanner(stderr)
				scanner.Buffer(make([]byte, 64*1024), 64*1024)
				for scanner.Scan() {
					proc.stderr.Write(append(scanner.Bytes(), '\n'))
				}
			}()
			return cmd, nil
		}
		lastErr = err

		if attempt >= len(r.retryDelays) {
			return nil, lastErr
		}
		logger.Warn("Reviewer spawn failed, retrying",
			zap.String("model", proc.spec.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(r.retryDelays[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// scanStdout feeds the output ring buffer and turns each line into an
// activity entry broadcast on the bus.
func (r *Runner) scanStdout(proc *process, stdout interface{ Read([]byte) (int, error) }) {
	defer proc.scanners.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		proc.stdout.Write([]byte(line + "\n"))

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > maxActivityLine {
			trimmed = trimmed[:maxActivityLine]
		}
		proc.activity.Add(Activity{Timestamp: time.Now(), Text: trimmed})
		if r.bus != nil {
			r.bus.Publish(events.AgentActivity(proc.spec.SessionID, proc.spec.Model, trimmed))
		}
	}
}

func (p *process) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *process) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// terminate sends SIGTERM to the process group, escalating to SIGKILL after
// the grace period.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	deadline := time.After(termGracePeriod)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return
		case <-tick.C:
			// Signal 0 probes for liveness
			if syscall.Kill(cmd.Process.Pid, 0) != nil {
				return
			}
		}
	}
}
