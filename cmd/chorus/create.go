package main

import (
	"embed"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/agents.yaml.tmpl templates/agent.go.tmpl
var templateFS embed.FS

type templateData struct {
	Name string
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	workspace := fs.String("w", "", "workspace name")
	tmpl := fs.String("template", "hello_world", "starter template name")
	root := fs.String("r", ".", "root directory for workspaces")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspace == "" {
		return fmt.Errorf("create: -w is required")
	}
	_ = *tmpl // chorus ships one template today; the flag is accepted for forward compatibility.

	dir := filepath.Join(*root, *workspace)
	if _, err := os.Stat(dir); err == nil {
		fmt.Printf("workspace %s already exists in %s\n", *workspace, dir)
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	data := templateData{Name: *workspace}
	if err := renderTemplate(dir, "agents.yaml", "templates/agents.yaml.tmpl", data); err != nil {
		return err
	}
	if err := renderTemplate(dir, "agent.go", "templates/agent.go.tmpl", data); err != nil {
		return err
	}

	fmt.Printf("created workspace %s in %s\n", *workspace, dir)
	fmt.Printf("configure it by editing %s\n", filepath.Join(dir, "agents.yaml"))
	fmt.Printf("run it with: chorus run -w %s\n", *workspace)
	return nil
}

func renderTemplate(dir, outName, templatePath string, data templateData) error {
	raw, err := templateFS.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("create: reading %s: %w", templatePath, err)
	}
	t, err := template.New(outName).Parse(string(raw))
	if err != nil {
		return fmt.Errorf("create: parsing %s: %w", templatePath, err)
	}
	f, err := os.Create(filepath.Join(dir, outName))
	if err != nil {
		return fmt.Errorf("create: writing %s: %w", outName, err)
	}
	defer f.Close()
	return t.Execute(f, data)
}
