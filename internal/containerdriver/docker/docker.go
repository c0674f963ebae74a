// Package docker implements containerdriver.Driver against a local
// Docker engine, grounded in the same client wiring the teacher's
// internal/driver/docker package uses: client.NewClientWithOpts with
// FromEnv + API version negotiation, ImageInspectWithRaw/ImagePull for
// ensure-image, and ContainerCreate/Start/Stop/Remove for lifecycle.
package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
)

// tmpfsSizeBytes is the fixed 64 MiB cap on the per-container writable
// /tmp.
const tmpfsSizeBytes = 64 * 1024 * 1024

// Driver implements containerdriver.Driver on top of the Docker engine
// API.
type Driver struct {
	cli *client.Client
}

// New constructs a Driver from the ambient Docker environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, etc.), negotiating the API version
// the same way the teacher's driver does.
func New() (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: failed to create client: %w", err)
	}
	return &Driver{cli: cli}, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *Driver) Close() error {
	return d.cli.Close()
}

func (d *Driver) EnsureImage(ctx context.Context, image string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("docker: failed to inspect image %s: %w", image, err)
	}

	log.Info().Str("image", image).Msg("image not found locally, pulling")
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("docker: failed to pull image %s: %w", image, err)
	}
	defer reader.Close()
	// Drain the pull progress stream until the engine reports completion.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("docker: image pull stream failed for %s: %w", image, err)
	}
	return nil
}

func (d *Driver) CreateContainer(ctx context.Context, spec containerdriver.ContainerSpec) (string, error) {
	name := "sandbox-" + spec.ID

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			NanoCPUs:  spec.NanoCPUs,
			PidsLimit: &spec.PidsLimit,
		},
		SecurityOpt: []string{"no-new-privileges"},
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   spec.SemanticDir,
				Target:   "/app/semantic",
				ReadOnly: true,
			},
		},
		// Legacy tmpfs option form, the only way to attach noexec/nosuid
		// mount flags to an anonymous tmpfs through the engine API.
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("size=%d,noexec,nosuid", tmpfsSizeBytes),
		},
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: "/app",
		},
		hostConfig,
		nil,
		nil,
		name,
	)
	if err != nil {
		return "", fmt.Errorf("docker: failed to create container %s: %w", name, err)
	}
	return resp.ID, nil
}

func (d *Driver) StartContainer(ctx context.Context, ref string) error {
	if err := d.cli.ContainerStart(ctx, ref, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("docker: failed to start container %s: %w", ref, err)
	}
	return nil
}

func (d *Driver) StopContainer(ctx context.Context, ref string, graceSec int) error {
	timeout := graceSec
	err := d.cli.ContainerStop(ctx, ref, container.StopOptions{Timeout: &timeout})
	if err == nil || client.IsErrNotFound(err) {
		return nil
	}
	return fmt.Errorf("docker: failed to stop container %s: %w", ref, err)
}

func (d *Driver) RemoveContainer(ctx context.Context, ref string) error {
	err := d.cli.ContainerRemove(ctx, ref, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err == nil || client.IsErrNotFound(err) {
		return nil
	}
	return fmt.Errorf("docker: failed to remove container %s: %w", ref, err)
}

func (d *Driver) IsContainerRunning(ctx context.Context, ref string) bool {
	info, err := d.cli.ContainerInspect(ctx, ref)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

func (d *Driver) InitContainerPython(ctx context.Context, ref string, timeoutMs int64) error {
	probe, err := d.ExecInContainer(ctx, ref, "python3 --version", timeoutMs)
	if err == nil && probe.ExitCode == 0 {
		return nil
	}

	const bootstrap = "apt-get update -qq && " +
		"apt-get install -y -qq python3-pip python3-dev && " +
		"pip3 install --quiet pandas numpy scipy"

	result, err := d.ExecInContainer(ctx, ref, bootstrap, timeoutMs)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &containerdriver.ErrPythonSetupFailed{Stderr: result.Stderr}
	}
	return nil
}
