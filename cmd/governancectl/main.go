// governancectl evaluates proposed actions and lints rule logic
// documents offline, without a running governance service.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/exafyltd/vitana-governance/internal/governance"
	"github.com/exafyltd/vitana-governance/internal/platform/auditlog"
	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "evaluate":
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: governancectl evaluate <action.yaml>")
			os.Exit(2)
		}
		os.Exit(runEvaluate(os.Args[2]))
	case "lint":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: governancectl lint <logic.yaml> [...]")
			os.Exit(2)
		}
		os.Exit(runLint(os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `governancectl <command>

commands:
  evaluate <action.yaml>      run hardcoded checks against a proposed action
  lint <logic.yaml> [...]     validate rule logic documents`)
}

// actionDoc is the YAML surface of a proposed action.
type actionDoc struct {
	Kind          string            `yaml:"kind"`
	Tenant        string            `yaml:"tenant"`
	Service       string            `yaml:"service"`
	Environment   string            `yaml:"environment"`
	Files         []string          `yaml:"files"`
	DeployMethod  string            `yaml:"deploy_method"`
	RoutePath     string            `yaml:"route_path"`
	CSPDirectives map[string]string `yaml:"csp_directives"`
	FileContents  map[string]string `yaml:"file_contents"`
	Author        string            `yaml:"author"`
	Metadata      map[string]any    `yaml:"metadata"`
}

func runEvaluate(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		return 1
	}
	var doc actionDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "decode %s: %v\n", path, err)
		return 1
	}

	action := governance.ProposedAction{
		Kind:          governance.ActionKind(doc.Kind),
		Tenant:        doc.Tenant,
		Service:       doc.Service,
		Environment:   doc.Environment,
		Files:         doc.Files,
		DeployMethod:  doc.DeployMethod,
		RoutePath:     doc.RoutePath,
		CSPDirectives: doc.CSPDirectives,
		FileContents:  doc.FileContents,
		Author:        doc.Author,
		Metadata:      doc.Metadata,
	}
	if !action.Kind.Valid() {
		fmt.Fprintf(os.Stderr, "unknown action kind %q\n", doc.Kind)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	audit := auditlog.NewEmitter(logger, auditlog.NopSink{}, time.Second)
	evaluator := governance.NewEvaluator(logger, nil, audit)
	decision := evaluator.Evaluate(context.Background(), action)

	if decision.Allowed {
		color.Green("ALLOW  %s %s", action.Kind, action.Service)
	} else {
		color.Red("BLOCK  %s %s", action.Kind, action.Service)
	}
	for _, v := range decision.Violations {
		line := fmt.Sprintf("  %-14s %-8s %s", v.RuleID, v.Severity, v.Message)
		if v.Path != "" {
			line += " (" + v.Path + ")"
		}
		if v.RuleID == governance.CheckNavigationReview {
			color.Yellow("%s", line)
			continue
		}
		color.Red("%s", line)
	}
	if decision.ReviewRequired {
		color.Yellow("review required before merge")
	}

	if !decision.Allowed {
		return 1
	}
	return 0
}

func runLint(paths []string) int {
	failed := false
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			color.Red("FAIL  %s: %v", path, err)
			failed = true
			continue
		}
		if _, err := rulespec.ParseLogic(raw); err != nil {
			color.Red("FAIL  %s: %v", path, err)
			failed = true
			continue
		}
		color.Green("OK    %s", path)
	}
	if failed {
		return 1
	}
	return 0
}
