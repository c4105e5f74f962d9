package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/magiclamp/lampdesk/internal/model"
	"github.com/magiclamp/lampdesk/internal/render"
	"github.com/magiclamp/lampdesk/internal/session"
	"github.com/magiclamp/lampdesk/internal/setup"
	"github.com/magiclamp/lampdesk/internal/store"
	"github.com/magiclamp/lampdesk/internal/uds"
	"github.com/magiclamp/lampdesk/internal/view"
	atomicyaml "github.com/magiclamp/lampdesk/internal/yaml"
)

const version = "1.0.0"

// Exit code for a change the workflow or the operator refused.
const exitRefused = 2

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "session":
		runSession(os.Args[2:])
	case "requests":
		runRequests(os.Args[2:])
	case "counts":
		runCounts(os.Args[2:])
	case "ping":
		runPing(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("lampdesk %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	var dir string
	var opts setup.Options

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			opts.Name = args[i]
		case "--base-url":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--base-url requires a value")
				os.Exit(1)
			}
			i++
			opts.BaseURL = args[i]
		default:
			if dir != "" {
				fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", args[i])
				fmt.Fprintln(os.Stderr, "usage: lampdesk setup <dir> [--name <name>] [--base-url <url>]")
				os.Exit(1)
			}
			dir = args[i]
		}
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "usage: lampdesk setup <dir> [--name <name>] [--base-url <url>]")
		os.Exit(1)
	}

	if err := setup.Run(dir, opts); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s in %s\n", setup.DirName, dir)
	fmt.Printf("Put the API token in %s/token, then run: lampdesk session\n", setup.DirName)
}

func runSession(_ []string) {
	dir := mustFindLampdeskDir()
	cfg, err := loadConfig(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}

	s, err := session.New(dir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}
	if err := s.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}
}

func runRequests(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: lampdesk requests <list|next|prev|reload|show|transition> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		runRequestsList(args[1:])
	case "next", "prev", "reload":
		runRequestsPage(args[0], args[1:])
	case "show":
		runRequestsShow(args[1:])
	case "transition":
		runRequestsTransition(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown requests subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: lampdesk requests <list|next|prev|reload|show|transition> [options]")
		os.Exit(1)
	}
}

func runRequestsList(args []string) {
	var params session.ListParams
	jsonOutput := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--search":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--search requires a value")
				os.Exit(1)
			}
			i++
			params.Search = args[i]
		case "--status":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--status requires a value")
				os.Exit(1)
			}
			i++
			params.Status = args[i]
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: lampdesk requests list [--search <text>] [--status <status|all>] [--json]")
			os.Exit(1)
		}
	}
	if _, err := view.ParseStatusFilter(params.Status); err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		os.Exit(1)
	}

	var v view.View
	call(newClient(), "list", params, &v)
	if jsonOutput {
		printJSON(v)
		return
	}
	render.List(os.Stdout, v)
}

func runRequestsPage(command string, args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", a)
			fmt.Fprintf(os.Stderr, "usage: lampdesk requests %s [--json]\n", command)
			os.Exit(1)
		}
	}

	var res session.PageResult
	call(newClient(), command, nil, &res)
	if jsonOutput {
		printJSON(res)
		return
	}
	if !res.Moved {
		switch command {
		case "next":
			fmt.Println("Already on the last page.")
		case "prev":
			fmt.Println("Already on the first page.")
		}
	}
	render.List(os.Stdout, res.View)
}

func runRequestsShow(args []string) {
	jsonOutput := false
	var idArg string
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			idArg = a
		}
	}
	id, err := parseID(idArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "show: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: lampdesk requests show <id> [--json]")
		os.Exit(1)
	}

	var it view.Item
	call(newClient(), "show", session.ShowParams{ID: id}, &it)
	if jsonOutput {
		printJSON(it)
		return
	}
	render.Item(os.Stdout, it)
}

func runRequestsTransition(args []string) {
	const usage = "usage: lampdesk requests transition <id> <status> [--yes] [--json]"
	var positional []string
	assumeYes := false
	jsonOutput := false

	for _, a := range args {
		switch a {
		case "--yes", "-y":
			assumeYes = true
		case "--json":
			jsonOutput = true
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	id, err := parseID(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "transition: %v\n", err)
		os.Exit(1)
	}
	target, err := model.ParseStatus(positional[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "transition: %v\n", err)
		os.Exit(1)
	}

	client := newClient()
	var current view.Item
	call(client, "show", session.ShowParams{ID: id}, &current)

	if !model.CanTransition(current.Status, target) {
		fmt.Fprintf(os.Stderr, "transition: %s cannot move from %s to %s\n",
			current.RequestCode, current.Status.Label(), target.Label())
		os.Exit(exitRefused)
	}
	if current.Updating {
		fmt.Fprintf(os.Stderr, "transition: a status change for %s is already in flight\n", current.RequestCode)
		os.Exit(exitRefused)
	}

	if !assumeYes {
		prompt := store.PromptConfirmer{In: os.Stdin, Out: os.Stdout}
		ok, err := prompt.Confirm(context.Background(), current.ServiceRequest, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "transition: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("Cancelled, nothing was changed.")
			os.Exit(exitRefused)
		}
	}

	var res session.TransitionResult
	call(client, "transition", session.TransitionParams{
		ID:        id,
		Status:    string(target),
		Confirmed: true,
	}, &res)
	if jsonOutput {
		printJSON(res)
		return
	}
	render.Transition(os.Stdout, res.Item, res.From)
}

func runCounts(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", a)
			fmt.Fprintln(os.Stderr, "usage: lampdesk counts [--json]")
			os.Exit(1)
		}
	}

	var res session.CountsResult
	call(newClient(), "counts", nil, &res)
	if jsonOutput {
		printJSON(res)
		return
	}
	render.Counts(os.Stdout, res.Counts, res.TotalCount)
}

func runPing(_ []string) {
	client := newClient()
	client.SetTimeout(5 * time.Second)
	var res struct {
		Status string `json:"status"`
		Page   int    `json:"page"`
	}
	call(client, "ping", nil, &res)
	fmt.Printf("session %s (page %d)\n", res.Status, res.Page)
}

func runShutdown(_ []string) {
	client := newClient()
	client.SetTimeout(5 * time.Second)
	call(client, "shutdown", nil, nil)
	fmt.Println("Session shutdown requested.")
}

// call sends command to the session and exits on failure. Refusals by the
// workflow exit with exitRefused so scripts can tell them apart.
func call(client *uds.Client, command string, params, out any) {
	err := client.Call(command, params, out)
	if err == nil {
		return
	}
	var ce *uds.CommandError
	if errors.As(err, &ce) {
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, ce.Code, ce.Message)
		switch ce.Code {
		case uds.ErrCodeInvalidTransition, uds.ErrCodeInFlight, uds.ErrCodeConfirmationRequired:
			os.Exit(exitRefused)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
	os.Exit(1)
}

func newClient() *uds.Client {
	dir := mustFindLampdeskDir()
	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	if cfg, err := loadConfig(dir); err == nil {
		// Outlast the session's own deadline so its error reaches the operator.
		client.SetTimeout(cfg.API.CommandTimeout() + 5*time.Second)
	}
	return client
}

func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("request id is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", s)
	}
	return id, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode json: %v\n", err)
		os.Exit(1)
	}
}

func mustFindLampdeskDir() string {
	dir := findLampdeskDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .lampdesk/ directory not found. Run 'lampdesk setup <dir>' first.")
		os.Exit(1)
	}
	return dir
}

// findLampdeskDir searches for .lampdesk/ in the current directory and ancestors.
func findLampdeskDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(dir string) (model.Config, error) {
	var cfg model.Config
	if err := atomicyaml.Load(filepath.Join(dir, "config.yaml"), &cfg); err != nil {
		return model.Config{}, fmt.Errorf("load config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `lampdesk %s - Magic Lamp service request desk

Usage: lampdesk <command> [options]

Session:
  setup <dir> [--name n] [--base-url u]   Initialize .lampdesk/ directory
  session                                  Run the session (foreground)
  ping                                     Check the session is up
  shutdown                                 Stop the session

Requests:
  requests list [--search s] [--status st] [--json]   Show the current page
  requests next|prev|reload [--json]                  Move between pages
  requests show <id> [--json]                         Show one request
  requests transition <id> <status> [--yes] [--json]  Change a request's status
  counts [--json]                                     Per-status totals

Utilities:
  version           Show version
  help              Show this help

`, version)
}
