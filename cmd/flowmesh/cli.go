// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" help:"Config file path (default: ./flowmesh.toml when present)" type:"path"`

	Run           RunCmd           `cmd:"" help:"Run a flow"`
	Resume        ResumeCmd        `cmd:"" help:"Resume a flow parked on a wait node"`
	Validate      ValidateCmd      `cmd:"" help:"Validate flow definition files"`
	ServeRoutines ServeRoutinesCmd `cmd:"" name:"serve-routines" help:"Consume routine firings from NATS"`
	FireRoutine   FireRoutineCmd   `cmd:"" name:"fire-routine" help:"Publish a routine firing to NATS"`
	Version       VersionCmd       `cmd:"" help:"Show version information"`
}

// RunCmd executes a flow once.
type RunCmd struct {
	Flow         string            `arg:"" help:"Flow code"`
	File         []string          `short:"f" help:"Extra flow definition file to load (repeatable)" type:"existingfile"`
	Trigger      string            `short:"t" default:"chat" enum:"chat,param,routine,open_window,add_friend" help:"Trigger type"`
	Message      string            `short:"m" help:"Chat message content"`
	Param        map[string]string `short:"p" help:"Param key=value (repeatable)"`
	Org          string            `default:"default" help:"Organization code"`
	User         string            `default:"cli" help:"User id"`
	Conversation string            `help:"Conversation id (synthesized when empty)"`
	Debug        bool              `help:"Mark the run as a debug run"`
}

// ResumeCmd continues a parked run with a new chat message.
type ResumeCmd struct {
	Flow         string   `arg:"" help:"Flow code"`
	Conversation string   `required:"" help:"Conversation id of the parked run"`
	Message      string   `short:"m" required:"" help:"Chat message content"`
	File         []string `short:"f" help:"Extra flow definition file to load (repeatable)" type:"existingfile"`
	Org          string   `default:"default" help:"Organization code"`
	User         string   `default:"cli" help:"User id"`
}

// ValidateCmd validates flow definition files.
type ValidateCmd struct {
	Files []string `arg:"" help:"Flow definition files (YAML or JSON)" type:"existingfile"`
}

// ServeRoutinesCmd subscribes to routine firings.
type ServeRoutinesCmd struct {
	URL     string `help:"NATS URL (overrides config)"`
	Subject string `help:"Subject (overrides config)"`
}

// FireRoutineCmd publishes one routine firing and waits for the reply.
type FireRoutineCmd struct {
	Flow    string            `arg:"" help:"Flow code"`
	Param   map[string]string `short:"p" help:"Param key=value (repeatable)"`
	Org     string            `default:"default" help:"Organization code"`
	User    string            `default:"cli" help:"User id"`
	Type    string            `default:"no_repeat" help:"Routine type"`
	URL     string            `help:"NATS URL (overrides config)"`
	Subject string            `help:"Subject (overrides config)"`
	NoWait  bool              `help:"Publish without waiting for the reply"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
