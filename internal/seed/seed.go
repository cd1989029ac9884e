// Package seed loads an initial rule set from YAML and applies it to an
// empty or partially populated store.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/routingrules/rules"
)

// File is the on-disk seed format.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is one seeded routing rule. Active defaults to true when omitted.
type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Department  string   `yaml:"department"`
	Priority    int      `yaml:"priority"`
	Active      *bool    `yaml:"active"`
}

func (r Rule) input() rules.RuleInput {
	return rules.RuleInput{
		Name:         r.Name,
		Description:  r.Description,
		Keywords:     r.Keywords,
		DepartmentID: r.Department,
		Priority:     r.Priority,
		Active:       r.Active,
	}
}

// Parse decodes a seed document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses the seed file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// RuleWriter is the subset of the engine used for seeding.
type RuleWriter interface {
	ListRules(ctx context.Context) ([]rules.Rule, error)
	CreateRule(ctx context.Context, in rules.RuleInput) (rules.Rule, error)
}

// Result summarizes an Apply run.
type Result struct {
	Created int
	Skipped int
}

// Apply creates every seeded rule whose name is not already present.
// Names compare exactly after trimming. It stops at the first failure.
func Apply(ctx context.Context, w RuleWriter, f *File, logger *slog.Logger) (Result, error) {
	var res Result
	if f == nil || len(f.Rules) == 0 {
		return res, nil
	}

	existing, err := w.ListRules(ctx)
	if err != nil {
		return res, fmt.Errorf("list existing rules: %w", err)
	}
	names := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		names[r.Name] = struct{}{}
	}

	for i, sr := range f.Rules {
		name := strings.TrimSpace(sr.Name)
		if _, ok := names[name]; ok {
			res.Skipped++
			continue
		}
		created, err := w.CreateRule(ctx, sr.input())
		if err != nil {
			return res, fmt.Errorf("seed rule %d (%q): %w", i, sr.Name, err)
		}
		names[created.Name] = struct{}{}
		res.Created++
		logger.Debug("seeded rule", "rule_id", created.ID, "name", created.Name)
	}

	logger.Info("seed applied", "created", res.Created, "skipped", res.Skipped)
	return res, nil
}
