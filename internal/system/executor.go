package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/overseerhq/overseer/internal/assign"
	"github.com/overseerhq/overseer/internal/channel"
	"github.com/overseerhq/overseer/internal/reason"
	"github.com/overseerhq/overseer/pkg/models"
)

// humanResponseTimeout bounds how long a paired execution waits for a
// human reply when the task itself carries no timeout.
const humanResponseTimeout = 15 * time.Minute

// executor runs assigned tasks per the agent's role type: standalone
// agents consult the reasoning backend, paired agents wait on their human,
// and shadow agents act within their permission set.
type executor struct {
	engine   *assign.Engine
	reasoner reason.Reasoner
	channel  channel.Channel

	wg sync.WaitGroup
}

func newExecutor(e *assign.Engine, r reason.Reasoner, c channel.Channel) *executor {
	return &executor{engine: e, reasoner: r, channel: c}
}

// Dispatch starts the execution attempt on its own goroutine so the tick
// loop never blocks on task work.
func (x *executor) Dispatch(ctx context.Context, a assign.Assignment) {
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		x.run(ctx, a)
	}()
}

// Wait blocks until all in-flight executions return.
func (x *executor) Wait() {
	x.wg.Wait()
}

func (x *executor) run(ctx context.Context, a assign.Assignment) {
	if err := x.engine.Begin(a.Task.ID); err != nil {
		return
	}

	if a.Task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Task.Timeout)
		defer cancel()
	}

	started := time.Now()
	var (
		result any
		err    error
	)
	switch a.Agent.RoleType {
	case models.RoleHumanPaired:
		result, err = x.runPaired(ctx, a)
	case models.RoleHumanShadow:
		result, err = x.runShadow(ctx, a)
	default:
		result, err = x.runStandalone(ctx, a)
	}
	elapsed := time.Since(started)

	if err != nil {
		x.engine.Fail(a.Task.ID, a.Agent.ID, err.Error(), elapsed)
		return
	}
	x.engine.Complete(a.Task.ID, a.Agent.ID, result, elapsed)
}

// runStandalone executes through the reasoning backend. Without one the
// task completes with a synthesized acknowledgement, which keeps offline
// deployments and tests functional.
func (x *executor) runStandalone(ctx context.Context, a assign.Assignment) (any, error) {
	if x.reasoner == nil {
		return fmt.Sprintf("completed: %s", a.Task.Name), nil
	}

	res, err := x.reasoner.Respond(ctx, reason.Request{
		System: fmt.Sprintf("You are %s, an autonomous agent. Complete the task and reply with the result.", a.Agent.Name),
		Prompt: taskPrompt(a.Task),
	})
	if err != nil {
		return nil, &models.ExecutionFailure{
			TaskID:  a.Task.ID,
			AgentID: a.Agent.ID,
			Reason:  err.Error(),
			Timeout: ctx.Err() == context.DeadlineExceeded,
		}
	}
	return res.Text, nil
}

// runPaired notifies the paired human and waits for their response.
func (x *executor) runPaired(ctx context.Context, a assign.Assignment) (any, error) {
	pairing := a.Agent.Pairing
	if pairing == nil {
		return nil, &models.ExecutionFailure{
			TaskID: a.Task.ID, AgentID: a.Agent.ID, Reason: "agent has no pairing record",
		}
	}

	msg := channel.Message{
		Recipient:      pairing.HumanID,
		ContactChannel: pairing.ContactChannel,
		Subject:        a.Task.Name,
		Body:           taskPrompt(a.Task),
		CorrelationID:  a.Task.ID,
	}
	if err := x.channel.Notify(ctx, msg); err != nil {
		return nil, fmt.Errorf("notify %s: %w", pairing.HumanID, err)
	}

	timeout := a.Task.Timeout
	if timeout <= 0 {
		timeout = humanResponseTimeout
	}
	resp, err := x.channel.AwaitResponse(ctx, a.Task.ID, timeout)
	if err != nil {
		return nil, &models.ExecutionFailure{
			TaskID:  a.Task.ID,
			AgentID: a.Agent.ID,
			Reason:  fmt.Sprintf("no response from %s: %v", pairing.HumanID, err),
			Timeout: err == channel.ErrTimeout,
		}
	}
	return resp.Body, nil
}

// runShadow acts on the represented human's behalf. The permission set is
// re-checked at execution time; assignment-time filtering can go stale if
// permissions change while the task is queued.
func (x *executor) runShadow(ctx context.Context, a assign.Assignment) (any, error) {
	shadow := a.Agent
	if !shadow.HasPermissions(a.Task.RequiredPermissions) {
		return nil, &models.ExecutionFailure{
			TaskID:  a.Task.ID,
			AgentID: shadow.ID,
			Reason:  fmt.Sprintf("missing permissions for task, acting for %s", shadow.RepresentedHumanID),
		}
	}

	if x.reasoner == nil {
		return fmt.Sprintf("completed on behalf of %s: %s", shadow.RepresentedHumanID, a.Task.Name), nil
	}
	res, err := x.reasoner.Respond(ctx, reason.Request{
		System: fmt.Sprintf(
			"You are %s, acting on behalf of %s within permissions %v. Complete the task and reply with the result.",
			shadow.Name, shadow.RepresentedHumanName, shadow.ShadowPermissions),
		Prompt: taskPrompt(a.Task),
	})
	if err != nil {
		return nil, &models.ExecutionFailure{
			TaskID:  a.Task.ID,
			AgentID: shadow.ID,
			Reason:  err.Error(),
			Timeout: ctx.Err() == context.DeadlineExceeded,
		}
	}
	return res.Text, nil
}

// taskPrompt renders the task for an execution backend or a human.
func taskPrompt(t models.Task) string {
	prompt := t.Name
	if t.Description != "" {
		prompt += "\n\n" + t.Description
	}
	if t.Payload != nil {
		prompt += fmt.Sprintf("\n\nInput: %v", t.Payload)
	}
	return prompt
}
