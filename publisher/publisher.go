// Package publisher hands a workspace directory to the content-addressing
// daemon and turns its output into a PublishResult.
//
// The daemon is invoked as "<bin> add -r -q <dir>". Its standard output
// carries one hash per line; the first line is the remote hash and the
// second the local hash. Any bytes on standard error mean failure, whatever
// the exit code.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/ipfs-publish/iox"
	"github.com/pithecene-io/ipfs-publish/log"
	"github.com/pithecene-io/ipfs-publish/types"
)

// DefaultBin is the daemon binary looked up on PATH.
const DefaultBin = "ipfs"

// DefaultTimeout bounds a single publish.
const DefaultTimeout = 5 * time.Minute

// Config configures a Publisher.
type Config struct {
	// Bin is the daemon executable (default DefaultBin).
	Bin string
	// Timeout bounds a publish. Zero disables the bound.
	Timeout time.Duration
}

// Publisher runs publishes through a Spawner.
type Publisher struct {
	config  Config
	spawner Spawner
	logger  *log.Logger
}

// New creates a Publisher. A nil spawner selects ExecSpawner and a nil
// logger discards output.
func New(cfg Config, spawner Spawner, logger *log.Logger) *Publisher {
	if cfg.Bin == "" {
		cfg.Bin = DefaultBin
	}
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Publisher{config: cfg, spawner: spawner, logger: logger}
}

// Args returns the daemon arguments for dir.
func Args(dir string) []string {
	return []string{"add", "-r", "-q", dir}
}

// Publish publishes dir and returns its hashes.
//
// Resolution happens once stdout reaches EOF and stderr has drained. If ctx
// ends first, or the configured timeout elapses, the process is killed and
// a publish error is returned. Failures are always *types.Error values of
// kind types.ErrPublish.
func (p *Publisher) Publish(ctx context.Context, dir string) (*types.PublishResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	p.logger.Debug("spawning publisher", map[string]any{
		"bin": p.config.Bin,
		"dir": dir,
	})

	proc, err := p.spawner.Start(ctx, p.config.Bin, Args(dir))
	if err != nil {
		return nil, types.NewPublishError("", err)
	}

	var stdout, stderr iox.SyncBuffer
	s := newSettler()
	stderrDone := make(chan struct{})
	copiesDone := make(chan struct{})

	go func() {
		defer close(stderrDone)
		if _, err := io.Copy(&stderr, proc.Stderr()); err != nil {
			s.settle(settlement{
				err:    types.NewPublishError(stderr.String(), fmt.Errorf("read stderr: %w", err)),
				source: "stderr",
			})
		}
	}()

	go func() {
		defer close(copiesDone)
		_, err := io.Copy(&stdout, proc.Stdout())
		<-stderrDone
		if err != nil {
			s.settle(settlement{
				err:    types.NewPublishError(stderr.String(), fmt.Errorf("read stdout: %w", err)),
				source: "stdout",
			})
			return
		}
		s.settle(evaluate(stdout.String(), stderr.String()))
	}()

	timedOut := false
	select {
	case <-s.Done():
	case <-ctx.Done():
		timedOut = s.settle(settlement{
			err:    types.NewPublishError(timeoutMessage(ctx.Err()), ctx.Err()),
			source: "context",
		})
	}

	res := s.Result()
	killed := res.err != nil
	if killed {
		_ = proc.Kill()
	}

	if timedOut {
		go p.reap(proc, copiesDone, dir, killed)
	} else {
		p.reap(proc, copiesDone, dir, killed)
	}

	if res.err != nil {
		p.logger.Warn("publish failed", map[string]any{
			"dir":    dir,
			"source": res.source,
			"error":  res.err.Error(),
		})
		return nil, res.err
	}

	p.logger.Info("publish complete", map[string]any{
		"dir":         dir,
		"remote_hash": res.result.RemoteHash,
		"local_hash":  res.result.LocalHash,
	})
	return res.result, nil
}

// reap collects the exit code and waits for both output copies. A killed
// process is waited on first: its pipes may still be held open by
// descendants, and Wait is what closes them.
func (p *Publisher) reap(proc Process, copiesDone <-chan struct{}, dir string, killed bool) {
	if !killed {
		<-copiesDone
	}
	code, err := proc.Wait()
	if killed {
		<-copiesDone
	}
	if err != nil {
		p.logger.Warn("publisher wait failed", map[string]any{
			"dir":   dir,
			"error": err.Error(),
		})
		return
	}
	p.logger.Debug("publisher exited", map[string]any{
		"dir":       dir,
		"exit_code": code,
	})
}

// evaluate resolves drained output into a settlement.
func evaluate(stdout, stderr string) settlement {
	if stderr != "" {
		return settlement{err: types.NewPublishError(stderr, nil), source: "stderr"}
	}
	return settlement{result: types.ParseOutput(stdout), source: "stdout"}
}

func timeoutMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "publish timed out"
	}
	return "publish canceled"
}
