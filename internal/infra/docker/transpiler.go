// Package docker runs the configured transpiler inside a container: the
// learner's source is copied in, the tool executes under CPU/memory/time
// limits, and its output is parsed into compiled text plus diagnostics.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	typesimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"excheck/internal/domain/verify"
	"excheck/internal/ports"
)

// Ensure Transpiler implements ports.Transpiler.
var _ ports.Transpiler = (*Transpiler)(nil)

const (
	defaultImage      = "node:20-alpine"
	defaultWorkdir    = "/work"
	defaultSourceFile = "source.ts"
	defaultOutputFile = "compiled.js"
	defaultTimeLimit  = 60 * time.Second
)

// Command placeholders substituted before execution.
const (
	sourcePlaceholder = "{source}"
	outputPlaceholder = "{out}"
)

func defaultCommand() []string {
	return []string{
		"npx", "--yes", "--package", "typescript@5",
		"tsc", "--pretty", "false", "--target", "es2020",
		"--outFile", outputPlaceholder, sourcePlaceholder,
	}
}

// Config describes the container-backed transpiler.
type Config struct {
	Image   string
	Workdir string
	// Command is the argv to run; {source} and {out} are replaced with the
	// in-container source and output file names.
	Command          []string
	SourceFile       string
	OutputFile       string
	TimeLimit        time.Duration
	MemoryLimitBytes int64
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.Workdir == "" {
		c.Workdir = defaultWorkdir
	}
	if len(c.Command) == 0 {
		c.Command = defaultCommand()
	}
	if c.SourceFile == "" {
		c.SourceFile = defaultSourceFile
	}
	if c.OutputFile == "" {
		c.OutputFile = defaultOutputFile
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = defaultTimeLimit
	}
	if c.MemoryLimitBytes < 0 {
		c.MemoryLimitBytes = 0
	}
	return c
}

// Transpiler implements ports.Transpiler on top of a Docker container per
// run. Compilation failure is reported as data; the error return is
// reserved for the Docker API itself misbehaving.
type Transpiler struct {
	cli dockerClient
	cfg Config

	pullOnce sync.Once
	pullErr  error
}

// New constructs a Transpiler using the supplied configuration.
func New(cfg Config) (*Transpiler, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker transpiler: create client: %w", err)
	}
	return newTranspilerWithClient(cli, cfg), nil
}

func newTranspilerWithClient(cli dockerClient, cfg Config) *Transpiler {
	return &Transpiler{
		cli: cli,
		cfg: cfg.withDefaults(),
	}
}

// Transpile runs the configured command over the learner's source and
// collects compiled text and diagnostics.
func (t *Transpiler) Transpile(ctx context.Context, exercise verify.Exercise, source string) (ports.TranspileResult, error) {
	if err := t.ensureImage(ctx); err != nil {
		return ports.TranspileResult{}, err
	}

	containerID, cleanup, err := t.createContainer(ctx)
	if err != nil {
		return ports.TranspileResult{}, err
	}
	defer cleanup()

	files := []fileSpec{{
		Name: t.cfg.SourceFile,
		Data: []byte(source),
	}}
	if err := t.copyFiles(ctx, containerID, t.cfg.Workdir, files); err != nil {
		return ports.TranspileResult{}, fmt.Errorf("copy source: %w", err)
	}

	start := time.Now()
	if err := t.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return ports.TranspileResult{}, fmt.Errorf("start container: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.cfg.TimeLimit)
	status, err := t.waitForExit(waitCtx, containerID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return t.handleTimeLimit(containerID, time.Since(start))
		}
		return ports.TranspileResult{}, err
	}

	output, err := t.fetchLogs(backgroundIfDone(ctx), containerID)
	if err != nil {
		return ports.TranspileResult{}, fmt.Errorf("fetch logs: %w", err)
	}

	if oom, ierr := t.wasOOMKilled(backgroundIfDone(ctx), containerID); ierr == nil && oom {
		_, console := parseDiagnostics(output)
		return ports.TranspileResult{
			CompilationErrors: []verify.CompilationError{{
				File:    exercise.FilePath,
				Message: "transpiler ran out of memory",
			}},
			ConsoleOutput: console,
		}, nil
	}

	if status.StatusCode != 0 {
		diags, console := parseDiagnostics(output)
		if len(diags) == 0 {
			diags = []verify.CompilationError{{
				File:    exercise.FilePath,
				Message: fmt.Sprintf("transpiler exited with code %d", status.StatusCode),
			}}
		}
		return ports.TranspileResult{
			CompilationErrors: diags,
			ConsoleOutput:     console,
		}, nil
	}

	compiled, err := t.copyFileFromContainer(backgroundIfDone(ctx), containerID, path.Join(t.cfg.Workdir, t.cfg.OutputFile))
	if err != nil {
		return ports.TranspileResult{}, fmt.Errorf("read compiled output: %w", err)
	}

	_, console := parseDiagnostics(output)
	return ports.TranspileResult{
		CompiledText:  string(compiled),
		ConsoleOutput: console,
	}, nil
}

// Close releases the Docker client.
func (t *Transpiler) Close() error {
	return t.cli.Close()
}

func (t *Transpiler) ensureImage(ctx context.Context) error {
	t.pullOnce.Do(func() {
		reader, err := t.cli.ImagePull(ctx, t.cfg.Image, typesimage.PullOptions{})
		if err != nil {
			t.pullErr = fmt.Errorf("pull image %s: %w", t.cfg.Image, err)
			return
		}
		defer reader.Close()
		if _, err := io.Copy(io.Discard, reader); err != nil {
			t.pullErr = fmt.Errorf("consume pull output for %s: %w", t.cfg.Image, err)
		}
	})
	return t.pullErr
}

func (t *Transpiler) createContainer(ctx context.Context) (string, func(), error) {
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: 1_000_000_000,
		},
	}
	if t.cfg.MemoryLimitBytes > 0 {
		hostConfig.Resources.Memory = t.cfg.MemoryLimitBytes
		hostConfig.Resources.MemorySwap = t.cfg.MemoryLimitBytes
	}

	resp, err := t.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:        t.cfg.Image,
			Cmd:          t.command(),
			AttachStdout: true,
			AttachStderr: true,
			WorkingDir:   t.cfg.Workdir,
		},
		hostConfig,
		nil,
		nil,
		"",
	)
	if err != nil {
		return "", nil, fmt.Errorf("create container: %w", err)
	}

	cleanup := func() {
		_ = t.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}
	return resp.ID, cleanup, nil
}

func (t *Transpiler) command() []string {
	cmd := make([]string, len(t.cfg.Command))
	for i, arg := range t.cfg.Command {
		arg = strings.ReplaceAll(arg, sourcePlaceholder, t.cfg.SourceFile)
		arg = strings.ReplaceAll(arg, outputPlaceholder, t.cfg.OutputFile)
		cmd[i] = arg
	}
	return cmd
}

func (t *Transpiler) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := t.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

// handleTimeLimit stops the container and reports the timeout as a
// compilation error so a stuck transpile still yields a report.
func (t *Transpiler) handleTimeLimit(containerID string, elapsed time.Duration) (ports.TranspileResult, error) {
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()

	if err := t.cli.ContainerStop(stopCtx, containerID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return ports.TranspileResult{}, fmt.Errorf("stop container after time limit: %w", err)
	}

	output, err := t.fetchLogs(context.Background(), containerID)
	if err != nil {
		output = ""
	}
	_, console := parseDiagnostics(output)

	return ports.TranspileResult{
		CompilationErrors: []verify.CompilationError{{
			Message: fmt.Sprintf("transpiler timed out after %s", elapsed.Round(time.Millisecond)),
		}},
		ConsoleOutput: console,
	}, nil
}

func (t *Transpiler) wasOOMKilled(ctx context.Context, containerID string) (bool, error) {
	inspect, err := t.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, err
	}
	return inspect.State != nil && inspect.State.OOMKilled, nil
}

func (t *Transpiler) fetchLogs(ctx context.Context, containerID string) (string, error) {
	logs, err := t.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", err
	}

	if stderr.Len() == 0 {
		return stdout.String(), nil
	}
	return stdout.String() + "\n" + stderr.String(), nil
}

// backgroundIfDone falls back to a fresh context for cleanup reads once the
// run context has been cancelled.
func backgroundIfDone(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}
