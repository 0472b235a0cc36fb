package workload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PredictorRule maps a VM property (an app tag or a disk image) to the
// name of the estimator that should predict it.
type PredictorRule struct {
	Property  string `yaml:"property"`
	AppTag    bool   `yaml:"appTag,omitempty"`
	Disk      bool   `yaml:"disk,omitempty"`
	Predictor string `yaml:"predictor"`
}

// Validate checks the rule is usable.
func (r PredictorRule) Validate() error {
	switch {
	case strings.TrimSpace(r.Property) == "":
		return fmt.Errorf("%w: empty property", ErrBadRule)
	case strings.TrimSpace(r.Predictor) == "":
		return fmt.Errorf("%w: empty predictor for %q", ErrBadRule, r.Property)
	case !r.AppTag && !r.Disk:
		return fmt.Errorf("%w: %q is neither app tag nor disk", ErrBadRule, r.Property)
	}
	return nil
}

type ruleFile struct {
	Rules []yaml.Node `yaml:"rules"`
}

var csvHeader = []string{"property", "isAppTag", "isDisk", "predictor"}

// DefaultRules is written when no rule table exists.
func DefaultRules() []PredictorRule {
	return []PredictorRule{
		{Property: "web", AppTag: true, Predictor: NameWeekByTag},
		{Property: "batch", AppTag: true, Predictor: NameAverageByTag},
		{Property: "ubuntu-22.04", Disk: true, Predictor: NameBootByDisk},
	}
}

// LoadRules reads the rule table at path. YAML is used for .yaml/.yml
// files and the four column CSV format otherwise. When the file does not
// exist the defaults are written to it and returned. Malformed rows are
// skipped and logged.
func LoadRules(path string) ([]PredictorRule, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		rules := DefaultRules()
		if werr := WriteRules(path, rules); werr != nil {
			return nil, werr
		}
		slog.Info("workload: wrote default predictor rules", "path", path)
		return rules, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workload: open rules: %w", err)
	}
	defer f.Close()

	if isYAML(path) {
		return ParseRulesYAML(f)
	}
	return ParseRulesCSV(f)
}

// WriteRules writes rules to path in the format chosen by its extension.
func WriteRules(path string, rules []PredictorRule) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workload: rules dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("workload: create rules: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("workload: close rules: %w", cerr)
		}
	}()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(struct {
			Rules []PredictorRule `yaml:"rules"`
		}{rules}); err != nil {
			return fmt.Errorf("workload: encode rules: %w", err)
		}
		return enc.Close()
	}
	return writeRulesCSV(f, rules)
}

func writeRulesCSV(out io.Writer, rules []PredictorRule) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("workload: write rules: %w", err)
	}
	for _, r := range rules {
		if err := w.Write([]string{r.Property, strconv.FormatBool(r.AppTag), strconv.FormatBool(r.Disk), r.Predictor}); err != nil {
			return fmt.Errorf("workload: write rules: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// ParseRulesYAML parses a `rules:` list. Entries that fail to decode or
// validate are skipped.
func ParseRulesYAML(r io.Reader) ([]PredictorRule, error) {
	var rf ruleFile
	if err := yaml.NewDecoder(r).Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("workload: decode rules: %w", err)
	}
	out := make([]PredictorRule, 0, len(rf.Rules))
	for i := range rf.Rules {
		var rule PredictorRule
		if err := rf.Rules[i].Decode(&rule); err != nil {
			slog.Warn("workload: skipping predictor rule", "line", rf.Rules[i].Line, "err", err)
			continue
		}
		if err := rule.Validate(); err != nil {
			slog.Warn("workload: skipping predictor rule", "line", rf.Rules[i].Line, "err", err)
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// ParseRulesCSV parses the legacy four column table. The first row is a
// header. Rows that fail to parse as CSV, have another field count,
// unparseable flags or fail validation are skipped.
func ParseRulesCSV(r io.Reader) ([]PredictorRule, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []PredictorRule
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			slog.Warn("workload: skipping predictor rule", "line", perr.Line, "err", err)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("workload: read rules: %w", err)
		}
		if row == 0 || len(rec) != 4 {
			continue
		}
		rule, err := parseCSVRule(rec)
		if err != nil {
			slog.Warn("workload: skipping predictor rule", "row", row, "err", err)
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseCSVRule(rec []string) (PredictorRule, error) {
	appTag, err := strconv.ParseBool(strings.TrimSpace(rec[1]))
	if err != nil {
		return PredictorRule{}, fmt.Errorf("%w: isAppTag %q", ErrBadRule, rec[1])
	}
	disk, err := strconv.ParseBool(strings.TrimSpace(rec[2]))
	if err != nil {
		return PredictorRule{}, fmt.Errorf("%w: isDisk %q", ErrBadRule, rec[2])
	}
	rule := PredictorRule{
		Property:  strings.TrimSpace(rec[0]),
		AppTag:    appTag,
		Disk:      disk,
		Predictor: strings.TrimSpace(rec[3]),
	}
	return rule, rule.Validate()
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
