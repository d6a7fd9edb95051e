package exec

import (
	"fmt"
)

// Select picks the executor for a run. When useContainer is set the Docker
// executor is required and selection fails if the daemon or image name is
// missing; otherwise commands run unsandboxed on the host.
func Select(useContainer bool, image string) (Executor, error) {
	if !useContainer {
		return NewLocalExec(), nil
	}

	if image == "" {
		return nil, fmt.Errorf("container execution requested but no image configured")
	}

	docker := NewDockerExec(image)
	if !docker.Available() {
		return nil, fmt.Errorf("container execution requested but the container runtime is not available")
	}

	return docker, nil
}
