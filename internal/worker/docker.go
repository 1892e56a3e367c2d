package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const dockerAPIVersion = "v1.43"

// DockerRuntime talks to the Docker Engine API over the local unix socket.
// The dependency surface is deliberately the plain HTTP API: the orchestrator
// needs five endpoints and no engine-version coupling beyond them.
type DockerRuntime struct {
	client *http.Client
}

func NewDockerRuntime(socketPath string) *DockerRuntime {
	return &DockerRuntime{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

type dockerCreateRequest struct {
	Image  string            `json:"Image"`
	Env    []string          `json:"Env,omitempty"`
	Labels map[string]string `json:"Labels,omitempty"`
}

type dockerCreateResponse struct {
	ID string `json:"Id"`
}

func (d *DockerRuntime) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	create := dockerCreateRequest{Image: spec.Image, Env: spec.Env, Labels: spec.Labels}
	var created dockerCreateResponse
	if err := d.do(ctx, "POST", "/containers/create?name="+url.QueryEscape(spec.Name), create, &created); err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := d.do(ctx, "POST", "/containers/"+created.ID+"/start", nil, nil); err != nil {
		d.Remove(ctx, created.ID)
		return "", fmt.Errorf("start container: %w", err)
	}
	return created.ID, nil
}

func (d *DockerRuntime) Stop(ctx context.Context, containerID string) error {
	if err := d.do(ctx, "POST", "/containers/"+containerID+"/stop?t=10", nil, nil); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

func (d *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	if err := d.do(ctx, "DELETE", "/containers/"+containerID+"?force=true", nil, nil); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

type dockerInspectResponse struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Running  bool `json:"Running"`
		ExitCode int  `json:"ExitCode"`
	} `json:"State"`
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

func (d *DockerRuntime) Inspect(ctx context.Context, containerID string) (*ContainerInfo, error) {
	var resp dockerInspectResponse
	if err := d.do(ctx, "GET", "/containers/"+containerID+"/json", nil, &resp); err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	name := strings.TrimPrefix(resp.Name, "/")
	return &ContainerInfo{
		ID:       resp.ID,
		Name:     name,
		Labels:   resp.Config.Labels,
		Running:  resp.State.Running,
		ExitCode: resp.State.ExitCode,
		// Workers join the default bridge network; the container name
		// resolves there.
		Address: name,
	}, nil
}

type dockerListEntry struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	State  string            `json:"State"`
	Labels map[string]string `json:"Labels"`
}

func (d *DockerRuntime) ListByLabel(ctx context.Context, label string) ([]ContainerInfo, error) {
	filters, err := json.Marshal(map[string][]string{"label": {label}})
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}
	path := "/containers/json?all=true&filters=" + url.QueryEscape(string(filters))

	var entries []dockerListEntry
	if err := d.do(ctx, "GET", path, nil, &entries); err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(entries))
	for _, e := range entries {
		name := ""
		if len(e.Names) > 0 {
			name = strings.TrimPrefix(e.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:      e.ID,
			Name:    name,
			Labels:  e.Labels,
			Running: e.State == "running",
			Address: name,
		})
	}
	return infos, nil
}

func (d *DockerRuntime) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://docker/"+dockerAPIVersion+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
