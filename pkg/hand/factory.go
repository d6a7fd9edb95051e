package hand

import (
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent"
	"github.com/suryarastogi/helping-hands-sub000/pkg/agent/llm"
	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/metrics"
)

// Options carries optional collaborators for New. Zero values select the
// real implementations: a provider client built from the configuration, no
// metrics, git-based finalization.
type Options struct {
	// Client overrides the native backend's model client.
	Client llm.LLMClient

	// Recorder receives run, model, tool, and relaunch metrics.
	Recorder metrics.Recorder

	// Finalizer publishes successful runs when a request asks for it.
	Finalizer Finalizer
}

// New builds the Hand for the configured backend.
func New(cfg *config.Config, opts Options) (Hand, error) {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}
	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer = NewGitFinalizer(cfg.Git)
	}

	if cfg.Backend == config.BackendNative {
		client := opts.Client
		if client == nil {
			var err error
			client, err = agent.NewLLMClient(cfg, recorder)
			if err != nil {
				return nil, logx.Wrap(err, "failed to build model client")
			}
		}
		nh, err := newNativeHand(cfg, client, recorder, finalizer)
		if err != nil {
			return nil, err
		}
		return nh, nil
	}

	policy, err := policyFor(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return newProcHand(cfg, policy, recorder, finalizer), nil
}
