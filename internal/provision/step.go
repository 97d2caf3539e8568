package provision

import (
	"fmt"
	"strings"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/pkg/sshutil"
)

// Step is one unit of the provisioning workflow. Steps are idempotent:
// a step with a Probe only mutates remote state when the probe reports
// the desired state is missing, so re-running a workflow is safe.
type Step struct {
	Name string

	// Probe reports whether the step's effect is already in place.
	// A nil Probe means the step always runs.
	Probe func(c sshutil.SSHClient) (bool, error)

	// Run performs the mutation.
	Run func(c sshutil.SSHClient) error

	// Optional steps log their failure and let the workflow continue.
	// Everything else is fatal: the workflow aborts with the step's
	// output and does not attempt rollback.
	Optional bool
}

// runSteps executes steps in order. Later steps depend on the side
// effects of earlier ones (service restarts, group membership), so
// there is no concurrency here.
func (o *Orchestrator) runSteps(steps []Step) error {
	for _, s := range steps {
		if s.Probe != nil {
			ok, err := s.Probe(o.client)
			if err != nil {
				return errors.WrapWithCode(err, errors.ErrProvision,
					fmt.Sprintf("Probe for step %q failed", s.Name),
					"Check SSH connectivity to the target host.")
			}
			if ok {
				o.log.Debug("step %s: already satisfied, skipping", s.Name)
				o.report(fmt.Sprintf("[%s] already satisfied", s.Name))
				continue
			}
		}

		o.log.Debug("step %s: running", s.Name)
		o.report(fmt.Sprintf("[%s] running", s.Name))
		if err := s.Run(o.client); err != nil {
			if s.Optional {
				o.log.Warn("step %s failed (continuing): %v", s.Name, err)
				o.report(fmt.Sprintf("[%s] warning: %v", s.Name, err))
				continue
			}
			return err
		}
	}
	return nil
}

// exec runs a remote command and returns its combined output. A nonzero
// exit becomes an error carrying the output verbatim.
func (o *Orchestrator) exec(name, cmd string) (string, error) {
	stdout, stderr, code, err := o.client.Exec(cmd)
	out := combineOutput(stdout, stderr)
	if err != nil {
		return out, errors.WrapWithCode(err, errors.ErrProvision,
			fmt.Sprintf("Failed to execute %s on %s", name, o.client.GetHost()),
			"Check SSH connectivity to the target host.")
	}
	if code != 0 {
		return out, errors.New(errors.ErrProvision,
			fmt.Sprintf("%s failed on %s (exit %d): %s", name, o.client.GetHost(), code, strings.TrimSpace(out)),
			"Inspect the output above for the failing remote command.")
	}
	return out, nil
}

func combineOutput(stdout, stderr []byte) string {
	if len(stderr) == 0 {
		return string(stdout)
	}
	if len(stdout) == 0 {
		return string(stderr)
	}
	return string(stdout) + "\n" + string(stderr)
}
