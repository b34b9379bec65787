package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/pkg/board"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Result lists what Initialize created, relative to the root.
type Result struct {
	Created          []string
	GitignoreUpdated bool
}

// Initialize creates lodge.yml and the .lodge state directories under root.
// If force is true an existing lodge.yml is replaced. Existing coordination
// state (mailbox, locks, contracts) is never removed.
func Initialize(root string, force bool) (*Result, error) {
	if force {
		if err := handleForce(root); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(root); err != nil {
		return nil, err
	}

	files, err := getTemplateFiles(root)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	created, err := createDirectories(root)
	if err != nil {
		return nil, err
	}
	res.Created = append(res.Created, created...)

	if err := writeFiles(root, files); err != nil {
		return nil, err
	}
	for _, f := range files {
		res.Created = append(res.Created, f.Path)
	}

	docs, err := seedDocuments(root)
	if err != nil {
		return nil, err
	}
	res.Created = append(res.Created, docs...)

	if err := validateCreatedFiles(root); err != nil {
		return nil, err
	}

	if res.GitignoreUpdated, err = ensureGitignore(root); err != nil {
		return nil, err
	}
	return res, nil
}

// handleForce removes an existing lodge.yml
func handleForce(root string) error {
	path := filepath.Join(root, config.FileName)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.FileName, err)
		}
	}
	return nil
}

type templateData struct {
	Namespace string
}

// getTemplateFiles renders all template files
func getTemplateFiles(root string) ([]FileInfo, error) {
	raw, err := templatesFS.ReadFile("templates/lodge.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read lodge.yml template: %w", err)
	}
	tmpl, err := template.New("lodge.yml").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse lodge.yml template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{Namespace: namespaceFor(root)}); err != nil {
		return nil, fmt.Errorf("failed to render lodge.yml: %w", err)
	}
	return []FileInfo{{Path: config.FileName, Content: buf.Bytes(), Permissions: 0644}}, nil
}

// namespaceFor derives a Redis-safe namespace from the root directory name.
func namespaceFor(root string) string {
	ns := board.SafeName(strings.ToLower(filepath.Base(root)))
	if ns == "" || ns == "." || ns == "_" {
		return "lodge"
	}
	return ns
}

// createDirectories creates the .lodge state layout, returning the ones it made.
func createDirectories(root string) ([]string, error) {
	layout := board.Layout{Root: root}
	dirs := []string{
		layout.Dir(),
		layout.LocksDir(),
		filepath.Dir(layout.CursorPath("x")),
		filepath.Dir(layout.PidPath("x")),
		filepath.Dir(layout.ThreadPath("x")),
	}

	var created []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		rel, _ := filepath.Rel(root, dir)
		created = append(created, rel+"/")
	}
	return created, nil
}

// writeFiles writes all template files to disk
func writeFiles(root string, files []FileInfo) error {
	for _, file := range files {
		path := filepath.Join(root, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// seedDocuments writes empty shared documents that do not exist yet.
func seedDocuments(root string) ([]string, error) {
	layout := board.Layout{Root: root}
	docs := []struct {
		path string
		doc  any
	}{
		{layout.MailboxPath(), board.NewMailbox()},
		{layout.AgentsPath(), board.NewStatusTable()},
		{layout.ContractsPath(), board.NewContractTable()},
	}

	var created []string
	for _, d := range docs {
		if _, err := os.Stat(d.path); err == nil {
			continue
		}
		if err := board.WriteJSONAtomic(d.path, d.doc); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(root, d.path)
		created = append(created, rel)
	}
	return created, nil
}

// validateCreatedFiles checks that the written lodge.yml loads cleanly
func validateCreatedFiles(root string) error {
	if _, err := config.Load(filepath.Join(root, config.FileName)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.FileName, err)
	}
	return nil
}

// ensureGitignore appends .lodge/ to an existing .gitignore that lacks it.
func ensureGitignore(root string) (bool, error) {
	path := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case board.DirName, board.DirName + "/", "/" + board.DirName, "/" + board.DirName + "/":
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open .gitignore: %w", err)
	}
	defer f.Close()
	prefix := ""
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		prefix = "\n"
	}
	if _, err := fmt.Fprintf(f, "%s%s/\n", prefix, board.DirName); err != nil {
		return false, fmt.Errorf("failed to update .gitignore: %w", err)
	}
	return true, nil
}
