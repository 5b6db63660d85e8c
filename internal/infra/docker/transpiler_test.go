package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"excheck/internal/domain/verify"
)

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{MemoryLimitBytes: -1}.withDefaults()
	if cfg.Image != defaultImage {
		t.Fatalf("expected default image %q, got %q", defaultImage, cfg.Image)
	}
	if cfg.Workdir != defaultWorkdir {
		t.Fatalf("expected default workdir %q, got %q", defaultWorkdir, cfg.Workdir)
	}
	if cfg.SourceFile != defaultSourceFile || cfg.OutputFile != defaultOutputFile {
		t.Fatalf("expected default file names, got %q and %q", cfg.SourceFile, cfg.OutputFile)
	}
	if cfg.TimeLimit != defaultTimeLimit {
		t.Fatalf("expected default time limit %v, got %v", defaultTimeLimit, cfg.TimeLimit)
	}
	if cfg.MemoryLimitBytes != 0 {
		t.Fatalf("expected negative memory limit normalized to zero, got %d", cfg.MemoryLimitBytes)
	}
	if len(cfg.Command) == 0 {
		t.Fatalf("expected default command")
	}
}

func TestCommandSubstitution(t *testing.T) {
	t.Parallel()

	transpiler := newTranspilerWithClient(newFakeDockerClient(), Config{
		Command:    []string{"tsc", "--outFile", "{out}", "{source}"},
		SourceFile: "input.ts",
		OutputFile: "output.js",
	})

	cmd := transpiler.command()
	want := []string{"tsc", "--outFile", "output.js", "input.ts"}
	if len(cmd) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(cmd))
	}
	for i := range want {
		if cmd[i] != want[i] {
			t.Fatalf("arg %d: expected %q, got %q", i, want[i], cmd[i])
		}
	}
}

func TestMakeArchive(t *testing.T) {
	t.Parallel()

	data := []byte("const x: number = 1;\n")
	reader, err := makeArchive([]fileSpec{{Name: "source.ts", Mode: 0o600, Data: data}})
	if err != nil {
		t.Fatalf("makeArchive returned error: %v", err)
	}

	tr := tar.NewReader(reader)
	header, err := tr.Next()
	if err != nil {
		t.Fatalf("failed to read tar header: %v", err)
	}
	if header.Name != "source.ts" {
		t.Fatalf("expected source.ts in archive, got %s", header.Name)
	}
	if header.Mode != 0o600 {
		t.Fatalf("expected mode 0600, got %o", header.Mode)
	}

	contents, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("failed to read tar contents: %v", err)
	}
	if !bytes.Equal(contents, data) {
		t.Fatalf("archive contents mismatch")
	}

	if _, err := tr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after single file, got %v", err)
	}
}

func TestCopyFileFromContainer(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{})
	containerID := "container-1"
	targetPath := "/work/compiled.js"

	tarData := newTarArchive(t, "compiled.js", []byte("var x = 1;"))
	client.setCopyFrom(containerID, targetPath, tarData)

	data, err := transpiler.copyFileFromContainer(context.Background(), containerID, targetPath)
	if err != nil {
		t.Fatalf("copyFileFromContainer returned error: %v", err)
	}
	if string(data) != "var x = 1;" {
		t.Fatalf("unexpected file contents: %q", data)
	}

	client.clearCopyFrom(containerID, targetPath)
	if _, err := transpiler.copyFileFromContainer(context.Background(), containerID, targetPath); err == nil {
		t.Fatalf("expected error when file missing")
	}
}

func TestTranspileSuccess(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{})
	compiled := []byte("function greet() { return 'hi'; }\n")

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{status: &container.WaitResponse{StatusCode: 0}})
		client.setInspect(id, types.ContainerJSON{
			ContainerJSONBase: &types.ContainerJSONBase{
				State: &types.ContainerState{},
			},
		})
		client.setLogs(id, encodeDockerLogs("", ""))
		client.setCopyFrom(id, path.Join(defaultWorkdir, defaultOutputFile), newTarArchive(t, defaultOutputFile, compiled))
	})

	exercise := verify.Exercise{ID: "greeting", FilePath: "greeting.ts"}
	result, err := transpiler.Transpile(context.Background(), exercise, "function greet(): string { return 'hi'; }")
	if err != nil {
		t.Fatalf("Transpile returned error: %v", err)
	}
	if result.CompiledText != string(compiled) {
		t.Fatalf("unexpected compiled text: %q", result.CompiledText)
	}
	if len(result.CompilationErrors) != 0 {
		t.Fatalf("expected no compilation errors, got %#v", result.CompilationErrors)
	}

	if count := client.copyToCount(); count != 1 {
		t.Fatalf("expected source to be copied in once, got %d copies", count)
	}
	if call, ok := client.lastCopyTo(); ok {
		if !bytes.Contains(call.data, []byte("function greet(): string")) {
			t.Fatalf("expected source contents in copy payload")
		}
		if call.path != defaultWorkdir {
			t.Fatalf("expected copy into %q, got %q", defaultWorkdir, call.path)
		}
	}
	if len(client.removeCalls) != 1 {
		t.Fatalf("expected container removal, got %d", len(client.removeCalls))
	}
}

func TestTranspileDiagnostics(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{})

	output := "source.ts(3,5): error TS2304: Cannot find name 'turnOn'.\n" +
		"source.ts(7,1): error TS1005: '}' expected.\n"
	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{status: &container.WaitResponse{StatusCode: 2}})
		client.setInspect(id, types.ContainerJSON{
			ContainerJSONBase: &types.ContainerJSONBase{
				State: &types.ContainerState{},
			},
		})
		client.setLogs(id, encodeDockerLogs(output, ""))
	})

	exercise := verify.Exercise{ID: "toggle", FilePath: "toggle.ts"}
	result, err := transpiler.Transpile(context.Background(), exercise, "broken")
	if err != nil {
		t.Fatalf("diagnostics must be data, not an error: %v", err)
	}
	if result.CompiledText != "" {
		t.Fatalf("expected no compiled text on failure, got %q", result.CompiledText)
	}
	if len(result.CompilationErrors) != 2 {
		t.Fatalf("expected 2 compilation errors, got %#v", result.CompilationErrors)
	}

	first := result.CompilationErrors[0]
	if first.File != "source.ts" || first.Line != 3 || first.Column != 5 || first.Code != "TS2304" {
		t.Fatalf("unexpected first diagnostic: %+v", first)
	}
	if first.Message != "Cannot find name 'turnOn'." {
		t.Fatalf("unexpected diagnostic message: %q", first.Message)
	}
}

func TestTranspileNonZeroExitWithoutDiagnostics(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{status: &container.WaitResponse{StatusCode: 127}})
		client.setInspect(id, types.ContainerJSON{
			ContainerJSONBase: &types.ContainerJSONBase{
				State: &types.ContainerState{},
			},
		})
		client.setLogs(id, encodeDockerLogs("", "sh: tsc: not found"))
	})

	exercise := verify.Exercise{ID: "ex", FilePath: "ex.ts"}
	result, err := transpiler.Transpile(context.Background(), exercise, "const x = 1;")
	if err != nil {
		t.Fatalf("Transpile returned error: %v", err)
	}
	if len(result.CompilationErrors) != 1 {
		t.Fatalf("expected one fallback error, got %#v", result.CompilationErrors)
	}
	if !strings.Contains(result.CompilationErrors[0].Message, "exited with code 127") {
		t.Fatalf("unexpected fallback message: %q", result.CompilationErrors[0].Message)
	}
	if len(result.ConsoleOutput) != 1 || result.ConsoleOutput[0] != "sh: tsc: not found" {
		t.Fatalf("expected raw output preserved, got %#v", result.ConsoleOutput)
	}
}

func TestTranspileOOM(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{MemoryLimitBytes: 64 * 1024 * 1024})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{status: &container.WaitResponse{StatusCode: 137}})
		client.setInspect(id, types.ContainerJSON{
			ContainerJSONBase: &types.ContainerJSONBase{
				State: &types.ContainerState{OOMKilled: true},
			},
		})
		client.setLogs(id, encodeDockerLogs("", ""))
	})

	exercise := verify.Exercise{ID: "hog", FilePath: "hog.ts"}
	result, err := transpiler.Transpile(context.Background(), exercise, "const x = 1;")
	if err != nil {
		t.Fatalf("Transpile returned error: %v", err)
	}
	if len(result.CompilationErrors) != 1 {
		t.Fatalf("expected one error, got %#v", result.CompilationErrors)
	}
	if !strings.Contains(result.CompilationErrors[0].Message, "out of memory") {
		t.Fatalf("unexpected message: %q", result.CompilationErrors[0].Message)
	}
}

func TestTranspileHandlesTimeLimit(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{TimeLimit: 20 * time.Millisecond})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{block: true})
		client.setLogs(id, encodeDockerLogs("partial", ""))
	})

	exercise := verify.Exercise{ID: "loop", FilePath: "loop.ts"}
	result, err := transpiler.Transpile(context.Background(), exercise, "while(true){}")
	if err != nil {
		t.Fatalf("Transpile returned error: %v", err)
	}
	if len(result.CompilationErrors) != 1 {
		t.Fatalf("expected one timeout error, got %#v", result.CompilationErrors)
	}
	if !strings.Contains(result.CompilationErrors[0].Message, "timed out") {
		t.Fatalf("unexpected message: %q", result.CompilationErrors[0].Message)
	}
	if len(client.stopCalls) != 1 {
		t.Fatalf("expected container stop to be invoked, got %d", len(client.stopCalls))
	}
}

func TestTranspileCancelledContext(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{block: true})
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := transpiler.Transpile(ctx, verify.Exercise{ID: "ex", FilePath: "ex.ts"}, "const x = 1;")
	if err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEnsureImagePullOnce(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{Image: "node:20-alpine"})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := transpiler.ensureImage(context.Background()); err != nil {
				t.Errorf("ensureImage error: %v", err)
			}
		}()
	}
	wg.Wait()

	pulls := client.imagePullRefs()
	if len(pulls) != 1 {
		t.Fatalf("expected one image pull, got %d", len(pulls))
	}
	if pulls[0] != "node:20-alpine" {
		t.Fatalf("unexpected image ref %q", pulls[0])
	}
}

func TestTranspilerCloseInvokesClientClose(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	transpiler := newTranspilerWithClient(client, Config{})

	if err := transpiler.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !client.wasClosed() {
		t.Fatalf("expected client Close to be called")
	}
}

func TestParseDiagnostics(t *testing.T) {
	t.Parallel()

	output := "npm notice installing typescript\n" +
		"source.ts(12,5): error TS2304: Cannot find name 'x'.\n" +
		"source.ts(1,1): warning TS6133: 'y' is declared but never used.\r\n" +
		"error TS18003: No inputs were found in config file.\n" +
		"\n" +
		"done\n"

	diags, console := parseDiagnostics(output)

	if len(diags) != 3 {
		t.Fatalf("expected 3 diagnostics, got %#v", diags)
	}
	if diags[0].File != "source.ts" || diags[0].Line != 12 || diags[0].Column != 5 {
		t.Fatalf("unexpected located diagnostic: %+v", diags[0])
	}
	if diags[1].Code != "TS6133" {
		t.Fatalf("expected warning parsed, got %+v", diags[1])
	}
	if diags[2].File != "" || diags[2].Code != "TS18003" {
		t.Fatalf("unexpected global diagnostic: %+v", diags[2])
	}

	if len(console) != 2 {
		t.Fatalf("expected 2 console lines, got %#v", console)
	}
	if console[0] != "npm notice installing typescript" || console[1] != "done" {
		t.Fatalf("unexpected console lines: %#v", console)
	}
}

type fakeDockerClient struct {
	mu           sync.Mutex
	nextID       int
	closed       bool
	imagePulls   []string
	createCalls  []containerCreateCall
	copyToCalls  []copyToCall
	waitCalls    map[string][]waitCall
	logs         map[string][]byte
	inspect      map[string]types.ContainerJSON
	copyFromData map[string][]byte
	removeCalls  []string
	stopCalls    []string
	createHooks  []func(string)
}

type containerCreateCall struct {
	id         string
	config     *container.Config
	hostConfig *container.HostConfig
}

type copyToCall struct {
	containerID string
	path        string
	data        []byte
}

type waitCall struct {
	status *container.WaitResponse
	err    error
	block  bool
}

func newFakeDockerClient() *fakeDockerClient {
	return &fakeDockerClient{
		waitCalls:    make(map[string][]waitCall),
		logs:         make(map[string][]byte),
		inspect:      make(map[string]types.ContainerJSON),
		copyFromData: make(map[string][]byte),
	}
}

func (f *fakeDockerClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.imagePulls = append(f.imagePulls, ref)
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++
	f.createCalls = append(f.createCalls, containerCreateCall{id: id, config: config, hostConfig: hostConfig})
	hook := popHook(&f.createHooks)
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.copyToCalls = append(f.copyToCalls, copyToCall{containerID: containerID, path: dstPath, data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDockerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	f.mu.Lock()
	calls := f.waitCalls[containerID]
	if len(calls) > 0 {
		call := calls[0]
		f.waitCalls[containerID] = calls[1:]
		f.mu.Unlock()

		if call.block {
			return statusCh, errCh
		}
		if call.status != nil {
			statusCh <- *call.status
		}
		if call.err != nil {
			errCh <- call.err
		}
		return statusCh, errCh
	}
	f.mu.Unlock()

	return statusCh, errCh
}

func (f *fakeDockerClient) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.inspect[containerID]; ok {
		return info, nil
	}
	return types.ContainerJSON{}, nil
}

func (f *fakeDockerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	data := f.logs[containerID]
	f.mu.Unlock()
	if data == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeDockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, types.ContainerPathStat, error) {
	key := copyKey(containerID, srcPath)
	f.mu.Lock()
	data, ok := f.copyFromData[key]
	f.mu.Unlock()
	if !ok {
		return nil, types.ContainerPathStat{}, fmt.Errorf("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), types.ContainerPathStat{}, nil
}

func (f *fakeDockerClient) setWaitSequence(containerID string, calls ...waitCall) {
	f.mu.Lock()
	f.waitCalls[containerID] = append([]waitCall{}, calls...)
	f.mu.Unlock()
}

func (f *fakeDockerClient) setLogs(containerID string, data []byte) {
	f.mu.Lock()
	f.logs[containerID] = data
	f.mu.Unlock()
}

func (f *fakeDockerClient) setInspect(containerID string, info types.ContainerJSON) {
	f.mu.Lock()
	f.inspect[containerID] = info
	f.mu.Unlock()
}

func (f *fakeDockerClient) setCopyFrom(containerID, srcPath string, data []byte) {
	f.mu.Lock()
	f.copyFromData[copyKey(containerID, srcPath)] = data
	f.mu.Unlock()
}

func (f *fakeDockerClient) clearCopyFrom(containerID, srcPath string) {
	f.mu.Lock()
	delete(f.copyFromData, copyKey(containerID, srcPath))
	f.mu.Unlock()
}

func (f *fakeDockerClient) imagePullRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.imagePulls))
	copy(cp, f.imagePulls)
	return cp
}

func (f *fakeDockerClient) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDockerClient) copyToCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.copyToCalls)
}

func (f *fakeDockerClient) lastCopyTo() (copyToCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.copyToCalls) == 0 {
		return copyToCall{}, false
	}
	return f.copyToCalls[len(f.copyToCalls)-1], true
}

func copyKey(containerID, srcPath string) string {
	return containerID + "|" + srcPath
}

func popHook(hooks *[]func(string)) func(string) {
	if len(*hooks) == 0 {
		return nil
	}
	hook := (*hooks)[0]
	*hooks = (*hooks)[1:]
	return hook
}

func encodeDockerLogs(stdout, stderr string) []byte {
	var buf bytes.Buffer
	if stdout != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
		_, _ = w.Write([]byte(stdout))
	}
	if stderr != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
		_, _ = w.Write([]byte(stderr))
	}
	return buf.Bytes()
}

func newTarArchive(t *testing.T, name string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}); err != nil {
		t.Fatalf("write tar header: %v", err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatalf("write tar data: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return buf.Bytes()
}
