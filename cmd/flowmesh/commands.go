package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/config"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/engine"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/scheduler"
)

var triggerTypes = map[string]core.TriggerType{
	"chat":        core.TriggerChatMessage,
	"param":       core.TriggerParamCall,
	"routine":     core.TriggerRoutine,
	"open_window": core.TriggerOpenChatWindow,
	"add_friend":  core.TriggerAddFriend,
}

// runOutput is what run and resume print.
type runOutput struct {
	ExecutionID  string              `json:"execution_id"`
	Status       flow.Status         `json:"status"`
	Output       map[string]any      `json:"output"`
	Replies      []core.ReplyMessage `json:"replies,omitempty"`
	FailedNodeID string              `json:"failed_node_id,omitempty"`
	Error        string              `json:"error,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
}

// Run executes the run command.
func (c *RunCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := openMesh(ctx, g.ConfigPath, c.File)
	if err != nil {
		return err
	}
	defer m.Close()

	req := engine.Request{
		FlowCode:       c.Flow,
		TriggerType:    triggerTypes[c.Trigger],
		ExecutionType:  core.ExecutionAPI,
		ConversationID: c.Conversation,
		Operator:       core.Operator{UserID: c.User, OrganizationCode: c.Org, Nickname: c.User},
		User:           core.UserInfo{ID: c.User, Nickname: c.User},
		Message:        core.MessageInfo{Type: "text", Content: c.Message, Time: time.Now()},
		Params:         stringMap(c.Param),
		Debug:          c.Debug,
	}
	if c.Debug {
		req.ExecutionType = core.ExecutionDebug
	}

	res, err := m.Run(ctx, req)
	if err != nil {
		return err
	}
	if err := m.Wait(ctx); err != nil {
		return err
	}
	return report(g.Out, res)
}

// Run executes the resume command.
func (c *ResumeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := openMesh(ctx, g.ConfigPath, c.File)
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.Resume(ctx, engine.Request{
		FlowCode:       c.Flow,
		TriggerType:    core.TriggerChatMessage,
		ExecutionType:  core.ExecutionAPI,
		ConversationID: c.Conversation,
		Operator:       core.Operator{UserID: c.User, OrganizationCode: c.Org, Nickname: c.User},
		User:           core.UserInfo{ID: c.User, Nickname: c.User},
		Message:        core.MessageInfo{Type: "text", Content: c.Message, Time: time.Now()},
	})
	if engine.IsNotParked(err) {
		return fmt.Errorf("no run of %s is waiting on conversation %s", c.Flow, c.Conversation)
	}
	if err != nil {
		return err
	}
	if err := m.Wait(ctx); err != nil {
		return err
	}
	return report(g.Out, res)
}

// Run executes the validate command.
func (c *ValidateCmd) Run(g *Globals) error {
	m, err := flowmesh.New()
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range c.Files {
		f, err := flow.LoadFile(path)
		if err == nil {
			err = m.Validate(f)
		}
		if err != nil {
			failed++
			fmt.Fprintf(g.Out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(g.Out, "ok   %s (%s, %d nodes)\n", path, f.Code, len(f.Nodes))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d flows invalid", failed, len(c.Files))
	}
	return nil
}

// Run executes the serve-routines command.
func (c *ServeRoutinesCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return err
	}
	m, err := flowmesh.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	url := firstNonEmpty(c.URL, cfg.NATS.URL, nats.DefaultURL)
	sub, err := scheduler.Connect(url, m.Engine(), func(o *scheduler.Options) {
		o.Subject = firstNonEmpty(c.Subject, cfg.NATS.Subject)
		o.Queue = cfg.NATS.Queue
		o.Timeout = time.Duration(cfg.NATS.TimeoutSeconds) * time.Second
		o.Logger = cfg.NewLogger().WithComponent("scheduler")
	})
	if err != nil {
		return err
	}
	if err := sub.Start(); err != nil {
		_ = sub.Close()
		return err
	}
	fmt.Fprintf(g.Out, "listening for routines on %s\n", url)

	<-ctx.Done()

	closeErr := sub.Close()
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(closeErr, m.Wait(waitCtx))
}

// Run executes the fire-routine command.
func (c *FireRoutineCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return err
	}

	conn, err := nats.Connect(firstNonEmpty(c.URL, cfg.NATS.URL, nats.DefaultURL))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer conn.Close()

	pub := scheduler.NewPublisher(conn, firstNonEmpty(c.Subject, cfg.NATS.Subject))
	req := engine.RoutineRequest{
		FlowCode: c.Flow,
		Routine:  core.RoutineConfig{Type: c.Type},
		Params:   stringMap(c.Param),
		Operator: core.Operator{UserID: c.User, OrganizationCode: c.Org, Nickname: c.User},
	}
	if c.NoWait {
		if err := pub.Fire(req); err != nil {
			return err
		}
		return conn.Flush()
	}

	timeout := time.Duration(cfg.NATS.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	reply, err := pub.FireAndWait(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(g.Out, reply)
}

// Run executes the version command.
func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Out, "flowmesh version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return err
}

// openMesh builds the runtime from config and loads extra flow files.
func openMesh(ctx context.Context, configPath string, files []string) (*flowmesh.FlowMesh, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	m, err := flowmesh.FromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		f, err := flow.LoadFile(path)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		if err := m.AddFlows(f); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	return m, nil
}

func report(w io.Writer, res *flow.Result) error {
	out := runOutput{
		ExecutionID:  res.ExecutionID,
		Status:       res.Status,
		Output:       res.Output,
		Replies:      res.Replies,
		FailedNodeID: res.FailedNodeID,
		DurationMS:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if err := writeJSON(w, out); err != nil {
		return err
	}
	if res.Status == flow.StatusFailed {
		return fmt.Errorf("flow failed at node %s", res.FailedNodeID)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
