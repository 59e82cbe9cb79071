package capabilities

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"buildforge/internal/logging"
)

// coverageRe extracts test coverage percentage from stdout per the
// contract: coverage parsed from /Coverage:\s*(\d+)%/, absent => 0.
var coverageRe = regexp.MustCompile(`Coverage:\s*(\d+)%`)

// lintRe extracts structured lint findings from quality-runner stdout:
// /LINT ERROR:\s*([^:]+):(\d+)\s*-\s*(.+)/.
var lintRe = regexp.MustCompile(`LINT ERROR:\s*([^:]+):(\d+)\s*-\s*(.+)`)

// DockerRunner runs build/test/quality commands inside an isolated
// container so a package's toolchain never touches the orchestrator host.
type DockerRunner struct {
	cli          *client.Client
	image        string
	buildCmd     []string
	testCmd      []string
	qualityCmd   []string
	buildTimeout time.Duration
	testTimeout  time.Duration
}

// NewDockerRunner connects to the local Docker daemon via the standard
// environment variables (DOCKER_HOST, DOCKER_TLS_VERIFY, ...).
func NewDockerRunner(image string, buildCmd, testCmd, qualityCmd []string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runner: %w", err)
	}
	return &DockerRunner{
		cli:          cli,
		image:        image,
		buildCmd:     buildCmd,
		testCmd:      testCmd,
		qualityCmd:   qualityCmd,
		buildTimeout: 10 * time.Minute,
		testTimeout:  10 * time.Minute,
	}, nil
}

func (d *DockerRunner) runOnce(ctx context.Context, hostPath string, cmd []string, timeout time.Duration) (string, string, int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Cmd:        cmd,
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: hostPath,
			Target: "/workspace",
		}},
		AutoRemove: false,
	}, nil, nil, "")
	if err != nil {
		return "", "", -1, time.Since(start), fmt.Errorf("container create: %w", err)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", "", -1, time.Since(start), fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return "", "", -1, time.Since(start), fmt.Errorf("container wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := d.cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", int(exitCode), time.Since(start), fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	stdout, stderr := demux(logs)
	return stdout, stderr, int(exitCode), time.Since(start), nil
}

// demux reads the multiplexed docker log stream into stdout/stderr
// buffers. A minimal reader is used rather than stdcopy to avoid a second
// large dependency surface for log splitting the runner barely needs.
func demux(r io.Reader) (string, string) {
	// Each frame is an 8-byte header (stream id, 3 padding bytes, big-endian
	// payload length) followed by the payload: 1 = stdout, 2 = stderr.
	var streams [3]bytes.Buffer
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil || header[0] > 2 {
			return streams[1].String(), streams[2].String()
		}
		if _, err := io.CopyN(&streams[header[0]], r, int64(binary.BigEndian.Uint32(header[4:]))); err != nil {
			return streams[1].String(), streams[2].String()
		}
	}
}

func (d *DockerRunner) RunBuild(ctx context.Context, path string) (BuildResult, error) {
	stdout, stderr, code, dur, err := d.runOnce(ctx, path, d.buildCmd, d.buildTimeout)
	if err != nil {
		return BuildResult{}, err
	}
	return BuildResult{OK: code == 0, Stdout: stdout, Stderr: stderr, Duration: dur}, nil
}

func (d *DockerRunner) RunTests(ctx context.Context, path string) (TestResult, error) {
	stdout, stderr, code, dur, err := d.runOnce(ctx, path, d.testCmd, d.testTimeout)
	if err != nil {
		return TestResult{}, err
	}
	coverage := 0
	if m := coverageRe.FindStringSubmatch(stdout); m != nil {
		if v, convErr := strconv.Atoi(m[1]); convErr == nil {
			coverage = v
		}
	}
	return TestResult{OK: code == 0, CoveragePct: coverage, Stdout: stdout, Stderr: stderr, Duration: dur}, nil
}

func (d *DockerRunner) RunQuality(ctx context.Context, path string) (QualityCheckResult, error) {
	stdout, _, code, dur, err := d.runOnce(ctx, path, d.qualityCmd, d.buildTimeout)
	if err != nil {
		return QualityCheckResult{}, err
	}
	var failures []QualityFailure
	for _, m := range lintRe.FindAllStringSubmatch(stdout, -1) {
		line, _ := strconv.Atoi(m[2])
		failures = append(failures, QualityFailure{Type: "lint", File: m[1], Line: line, Message: m[3]})
	}
	passed := code == 0 && len(failures) == 0
	if !passed {
		logging.S().Infow("quality gate failed", "failures", len(failures))
	}
	return QualityCheckResult{Passed: passed, Failures: failures, Duration: dur}, nil
}

var (
	_ BuildRunner   = (*DockerRunner)(nil)
	_ TestRunner    = (*DockerRunner)(nil)
	_ QualityRunner = (*DockerRunner)(nil)
)
