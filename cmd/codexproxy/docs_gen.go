package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/config"
	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate CLI and config reference docs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

// generateDocumentation renders into a scratch directory, then either
// compares against outputDir or replaces the generated subtree there.
func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	scratch, err := os.MkdirTemp("", "codexproxy-docs-*")
	if err != nil {
		return fmt.Errorf("create temp docs dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := writeReference(rootFactory, scratch); err != nil {
		return err
	}

	generated := filepath.Join(scratch, "reference")
	target := filepath.Join(outputDir, "reference")
	if checkOnly {
		return compareTrees(generated, target)
	}
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return copyTree(generated, target)
}

func writeReference(rootFactory func() *cobra.Command, outDir string) error {
	root := rootFactory()
	disableAutoGenTag(root)

	cliDir := filepath.Join(outDir, "reference", "cli")
	manDir := filepath.Join(outDir, "reference", "man")
	for _, dir := range []string{cliDir, manDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	prepender := func(filename string) string {
		title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		return fmt.Sprintf("# %s\n\n", strings.ReplaceAll(title, "_", " "))
	}
	if err := cobraDoc.GenMarkdownTreeCustom(root, cliDir, prepender, func(name string) string { return name }); err != nil {
		return fmt.Errorf("generate cli markdown docs: %w", err)
	}
	header := &cobraDoc.GenManHeader{Title: "CODEXPROXY", Section: "1", Source: appName}
	if err := cobraDoc.GenManTree(root, header, manDir); err != nil {
		return fmt.Errorf("generate man pages: %w", err)
	}

	configRef, err := buildConfigReferenceMarkdown()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "reference", "config.md"), []byte(configRef), 0o644)
}

func disableAutoGenTag(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		disableAutoGenTag(child)
	}
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func compareTrees(generated, existing string) error {
	want, err := listFiles(generated)
	if err != nil {
		return err
	}
	have, err := listFiles(existing)
	if err != nil {
		return fmt.Errorf("docs out of date: %s missing; run `codexproxy docs generate`", existing)
	}
	if strings.Join(want, "\n") != strings.Join(have, "\n") {
		return fmt.Errorf("docs out of date: file set under %s differs; run `codexproxy docs generate`", existing)
	}
	for _, rel := range want {
		a, err := os.ReadFile(filepath.Join(generated, rel))
		if err != nil {
			return err
		}
		b, err := os.ReadFile(filepath.Join(existing, rel))
		if err != nil {
			return err
		}
		if !bytes.Equal(a, b) {
			return fmt.Errorf("docs out of date: %s changed; run `codexproxy docs generate`", rel)
		}
	}
	return nil
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func buildConfigReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	var rows []configFieldRow
	collectConfigRows(reflect.TypeOf((*config.Config)(nil)).Elem(), "", defaults, &rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`. ")
	b.WriteString("Environment variables override the file.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| `%s` | `%s` | `%s` | `%s` |\n",
			escapePipes(row.Path), escapePipes(row.Type), escapePipes(valueOr(row.Env, "-")), escapePipes(valueOr(row.Default, "-")))
	}
	return b.String(), nil
}

func collectConfigRows(t reflect.Type, prefix string, defaults map[string]string, rows *[]configFieldRow) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectConfigRows(f.Type, path, defaults, rows)
			continue
		}
		*rows = append(*rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(f.Type),
			Env:     strings.TrimSpace(f.Tag.Get("env")),
			Default: defaults[path],
		})
	}
}

func flattenConfigDefaults() (map[string]string, error) {
	data, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	flattenValues("", root, out)
	return out, nil
}

func flattenValues(prefix string, v interface{}, out map[string]string) {
	if m, ok := v.(map[string]interface{}); ok {
		for k, child := range m {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenValues(next, child, out)
		}
		return
	}
	encoded, _ := json.Marshal(v)
	out[prefix] = string(encoded)
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	default:
		return t.String()
	}
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
