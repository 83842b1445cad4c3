package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"es2os/internal/metrics"
	"es2os/internal/timeutil"

	"go.uber.org/zap"
)

// retryWait is the linear backoff unit: attempt 1 waits 30s, attempt 2
// waits 60s, and so on. No wait follows the final attempt.
const retryWait = 30 * time.Second

// stderrTailLen bounds how much captured error output makes it into
// logs and error messages.
const stderrTailLen = 500

// Config contains runner configuration. Endpoints and the log
// destination are bound once at construction; only the window query
// varies per invocation.
type Config struct {
	Home           string
	JavaHome       string
	SourceEndpoint string
	TargetEndpoint string
	IndexPattern   string
	LogPath        string
	Timeout        time.Duration
	MaxRetries     int
}

// Runner invokes the external batch-sync executor for one time window,
// retrying failed attempts with linear backoff.
type Runner struct {
	cfg     Config
	metrics *metrics.Collector
	logger  *zap.Logger

	// test seams
	invoke func(ctx context.Context, configPath string) Outcome
	sleep  func(d time.Duration)
}

// New creates a runner and verifies the executor installation
func New(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Runner, error) {
	if err := checkInstallation(cfg); err != nil {
		return nil, fmt.Errorf("executor installation check failed: %w", err)
	}

	r := &Runner{
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
		sleep:   time.Sleep,
	}
	r.invoke = r.run

	logger.Info("Executor installation check passed", zap.String("home", cfg.Home))
	return r, nil
}

func checkInstallation(cfg Config) error {
	if _, err := os.Stat(cfg.Home); err != nil {
		return fmt.Errorf("executor directory does not exist: %s", cfg.Home)
	}
	if _, err := os.Stat(binPath(cfg.Home)); err != nil {
		return fmt.Errorf("executor binary does not exist: %s", binPath(cfg.Home))
	}
	if cfg.JavaHome != "" {
		javaBin := filepath.Join(cfg.JavaHome, "bin", "java")
		if _, err := os.Stat(javaBin); err != nil {
			return fmt.Errorf("java executable does not exist: %s", javaBin)
		}
	}
	return nil
}

func binPath(home string) string {
	return filepath.Join(home, "bin", "logstash")
}

// Sync copies documents with field values in [start, end) from source
// to target. Retry is fully encapsulated here: a returned error means
// the attempt budget is exhausted (or the run was interrupted) and the
// failure is fatal to the caller.
func (r *Runner) Sync(ctx context.Context, start, end time.Time, field string) error {
	var lastReason string

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.metrics != nil {
			r.metrics.IncSyncAttempt()
		}

		r.logger.Info("Incremental sync",
			zap.String("start", timeutil.Format(start)),
			zap.String("end", timeutil.Format(end)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.MaxRetries),
		)

		outcome := r.attempt(ctx, attempt, start, end, field)
		switch outcome.State {
		case Success:
			r.logger.Info("Incremental sync successful", zap.Int("attempt", attempt))
			return nil
		case Fatal:
			return fmt.Errorf("sync aborted: %s", outcome.Reason)
		}

		lastReason = outcome.Reason
		r.logger.Warn("Sync attempt failed",
			zap.Int("attempt", attempt),
			zap.String("reason", outcome.Reason),
		)

		if attempt < r.cfg.MaxRetries {
			wait := time.Duration(attempt) * retryWait
			r.logger.Info("Waiting before retry", zap.Duration("wait", wait))
			r.sleep(wait)
		}
	}

	return fmt.Errorf("sync failed after %d attempts: %s", r.cfg.MaxRetries, lastReason)
}

// attempt materializes a per-attempt executor configuration, invokes the
// executor, and removes the configuration regardless of outcome.
func (r *Runner) attempt(ctx context.Context, attempt int, start, end time.Time, field string) Outcome {
	p := Pipeline{
		SourceEndpoint: r.cfg.SourceEndpoint,
		TargetEndpoint: r.cfg.TargetEndpoint,
		IndexPattern:   r.cfg.IndexPattern,
		Field:          field,
		Start:          start,
		End:            end,
		LogPath:        r.cfg.LogPath,
	}

	conf, err := p.Render()
	if err != nil {
		// A pipeline that fails validation will not get better on retry
		return fatal(err.Error())
	}

	configPath := filepath.Join(os.TempDir(),
		fmt.Sprintf("es2os_batch_%d_%d.conf", os.Getpid(), attempt))
	if err := os.WriteFile(configPath, []byte(conf), 0o600); err != nil {
		return retryable(fmt.Sprintf("failed to write executor config: %v", err))
	}
	defer os.Remove(configPath)

	return r.invoke(ctx, configPath)
}

func (r *Runner) run(ctx context.Context, configPath string) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binPath(r.cfg.Home), "-f", configPath)
	cmd.Env = subprocessEnv(os.Environ(), r.cfg)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return succeeded()
	}

	// Interrupt of the whole run is a controlled abort, not a retry case
	if ctx.Err() != nil {
		return fatal("interrupted")
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return retryable(fmt.Sprintf("execution timed out after %s", r.cfg.Timeout))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		reason := fmt.Sprintf("exit code %d", exitErr.ExitCode())
		if out := tail(stderr.Bytes(), stderrTailLen); out != "" {
			reason += ", error output: " + out
		}
		return retryable(reason)
	}

	return retryable(fmt.Sprintf("invocation failed: %v", err))
}

// subprocessEnv derives the executor's environment from base without
// touching the parent process environment: JAVA_HOME and LS_HOME are
// overridden and the Java bin directory is prepended to PATH.
func subprocessEnv(base []string, cfg Config) []string {
	env := make([]string, 0, len(base)+3)

	var path string
	for _, kv := range base {
		switch {
		case strings.HasPrefix(kv, "JAVA_HOME="), strings.HasPrefix(kv, "LS_HOME="):
			// replaced below
		case strings.HasPrefix(kv, "PATH="):
			path = strings.TrimPrefix(kv, "PATH=")
		default:
			env = append(env, kv)
		}
	}

	env = append(env, "LS_HOME="+cfg.Home)
	if cfg.JavaHome != "" {
		env = append(env, "JAVA_HOME="+cfg.JavaHome)
		path = filepath.Join(cfg.JavaHome, "bin") + string(os.PathListSeparator) + path
	}
	env = append(env, "PATH="+path)

	return env
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
