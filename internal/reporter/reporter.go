// Package reporter renders recorded match runs for people and programs.
//
// Supported output formats:
//   - Console: human-readable output for terminal display
//   - JSON: structured data for programmatic consumption
//   - YAML: structured data for review in pull requests and tickets
//   - CSV: one row per candidate result for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:     reporter.FormatYAML,
//		MaxResults: 5,
//	})
//	err = generator.GenerateReport(runs, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang-matching-service/internal/models"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeFieldScores bool `json:"include_field_scores" mapstructure:"include_field_scores"`
	IncludeDifferences bool `json:"include_differences" mapstructure:"include_differences"`

	// MaxResults limits the candidates shown per run. Zero shows all.
	MaxResults int `json:"max_results" mapstructure:"max_results"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width" mapstructure:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeFieldScores: false,
		IncludeDifferences: true,
		MaxResults:         10,
		TableMaxWidth:      120,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxResults < 0 {
		return fmt.Errorf("max results cannot be negative, got %d", c.MaxResults)
	}

	return nil
}

// ReportGenerator generates match run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	now    func() time.Time
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config, now: time.Now}, nil
}

// GenerateReport writes a report covering runs, newest first as given.
func (rg *ReportGenerator) GenerateReport(runs []models.MatchRun, writer io.Writer) error {
	if runs == nil {
		return fmt.Errorf("runs cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(runs, writer)
	case FormatJSON:
		return rg.generateJSONReport(runs, writer)
	case FormatYAML:
		return rg.generateYAMLReport(runs, writer)
	case FormatCSV:
		return rg.generateCSVReport(runs, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateRunReport is GenerateReport for a single run.
func (rg *ReportGenerator) GenerateRunReport(run *models.MatchRun, writer io.Writer) error {
	if run == nil {
		return fmt.Errorf("match run cannot be nil")
	}
	return rg.GenerateReport([]models.MatchRun{*run}, writer)
}

// Report is the document rendered by the JSON and YAML formats.
type Report struct {
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Summary     Summary     `json:"summary" yaml:"summary"`
	Runs        []RunReport `json:"runs" yaml:"runs"`
}

// Summary aggregates the decisions of the reported runs.
type Summary struct {
	Runs          int            `json:"runs" yaml:"runs"`
	Candidates    int            `json:"candidates" yaml:"candidates"`
	StrongMatches int            `json:"strong_matches" yaml:"strong_matches"`
	AutoApplied   int            `json:"auto_applied" yaml:"auto_applied"`
	Actions       map[string]int `json:"actions" yaml:"actions"`
}

// RunReport is one run as it appears in a report.
type RunReport struct {
	RunID             string         `json:"run_id" yaml:"run_id"`
	TenantID          string         `json:"tenant_id" yaml:"tenant_id"`
	TargetID          string         `json:"target_id" yaml:"target_id"`
	TargetKind        string         `json:"target_kind" yaml:"target_kind"`
	Profile           string         `json:"profile" yaml:"profile"`
	RecordedAt        time.Time      `json:"recorded_at" yaml:"recorded_at"`
	DurationMS        int64          `json:"duration_ms" yaml:"duration_ms"`
	CandidateCount    int            `json:"candidate_count" yaml:"candidate_count"`
	RecommendedAction string         `json:"recommended_action" yaml:"recommended_action"`
	HasStrongMatch    bool           `json:"has_strong_match" yaml:"has_strong_match"`
	AutoApply         bool           `json:"auto_apply" yaml:"auto_apply"`
	Results           []ResultReport `json:"results" yaml:"results"`
	Omitted           int            `json:"omitted,omitempty" yaml:"omitted,omitempty"`
}

// ResultReport is one ranked candidate.
type ResultReport struct {
	Rank           int                `json:"rank" yaml:"rank"`
	CandidateID    string             `json:"candidate_id" yaml:"candidate_id"`
	CandidateKind  string             `json:"candidate_kind" yaml:"candidate_kind"`
	Score          float64            `json:"score" yaml:"score"`
	MatchType      string             `json:"match_type" yaml:"match_type"`
	MatchingFields []string           `json:"matching_fields" yaml:"matching_fields"`
	Differences    []DifferenceReport `json:"differences,omitempty" yaml:"differences,omitempty"`
	FieldScores    map[string]float64 `json:"field_scores,omitempty" yaml:"field_scores,omitempty"`
}

// DifferenceReport is a considered field that did not match.
type DifferenceReport struct {
	Field     string  `json:"field" yaml:"field"`
	Target    string  `json:"target" yaml:"target"`
	Candidate string  `json:"candidate" yaml:"candidate"`
	Score     float64 `json:"score" yaml:"score"`
}

// BuildReport converts runs to the report document, applying the detail
// options of the configuration.
func (rg *ReportGenerator) BuildReport(runs []models.MatchRun) *Report {
	report := &Report{
		GeneratedAt: rg.now().UTC(),
		Summary:     summarize(runs),
		Runs:        make([]RunReport, 0, len(runs)),
	}

	for i := range runs {
		report.Runs = append(report.Runs, rg.buildRunReport(&runs[i]))
	}
	return report
}

func (rg *ReportGenerator) buildRunReport(run *models.MatchRun) RunReport {
	results, omitted := rg.limitResults(run.Decision.Results)

	rr := RunReport{
		RunID:             run.ID,
		TenantID:          run.TenantID,
		TargetID:          run.TargetID,
		TargetKind:        string(run.TargetKind),
		Profile:           run.Profile,
		RecordedAt:        run.RecordedAt,
		DurationMS:        run.Duration().Milliseconds(),
		CandidateCount:    run.CandidateCount,
		RecommendedAction: string(run.Decision.RecommendedAction),
		HasStrongMatch:    run.Decision.HasStrongMatch,
		AutoApply:         run.Decision.AutoApply,
		Results:           make([]ResultReport, 0, len(results)),
		Omitted:           omitted,
	}

	for i, r := range results {
		res := ResultReport{
			Rank:           i + 1,
			CandidateID:    r.CandidateID,
			CandidateKind:  string(r.CandidateKind),
			Score:          r.Score,
			MatchType:      string(r.MatchType),
			MatchingFields: fieldNames(r.MatchingFields),
		}

		if rg.config.IncludeDifferences {
			for _, d := range r.Differences {
				res.Differences = append(res.Differences, DifferenceReport{
					Field:     string(d.Field),
					Target:    d.TargetValue,
					Candidate: d.CandidateValue,
					Score:     d.Score,
				})
			}
		}

		if rg.config.IncludeFieldScores && len(r.FieldScores) > 0 {
			res.FieldScores = make(map[string]float64, len(r.FieldScores))
			for _, fs := range r.FieldScores {
				if !fs.Excluded {
					res.FieldScores[string(fs.Field)] = fs.Score
				}
			}
		}

		rr.Results = append(rr.Results, res)
	}

	return rr
}

func summarize(runs []models.MatchRun) Summary {
	s := Summary{Runs: len(runs), Actions: make(map[string]int)}
	for _, run := range runs {
		s.Candidates += run.CandidateCount
		s.Actions[string(run.Decision.RecommendedAction)]++
		if run.Decision.HasStrongMatch {
			s.StrongMatches++
		}
		if run.Decision.AutoApply {
			s.AutoApplied++
		}
	}
	return s
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(runs []models.MatchRun, writer io.Writer) error {
	fmt.Fprintf(writer, "MATCH REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n\n", rg.now().UTC().Format(time.RFC3339))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(summarize(runs), writer)
	fmt.Fprintf(writer, "\n")

	for i := range runs {
		rg.printRun(&runs[i], writer)
	}

	return nil
}

func (rg *ReportGenerator) printSummary(summary Summary, writer io.Writer) {
	fmt.Fprintf(writer, "Runs:           %d\n", summary.Runs)
	fmt.Fprintf(writer, "Candidates:     %d\n", summary.Candidates)
	fmt.Fprintf(writer, "Strong Matches: %d (%.1f%%)\n",
		summary.StrongMatches, rg.calculatePercentage(summary.StrongMatches, summary.Runs))
	fmt.Fprintf(writer, "Auto-Applied:   %d\n", summary.AutoApplied)

	actions := make([]string, 0, len(summary.Actions))
	for action := range summary.Actions {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Fprintf(writer, "  %-17s %d\n", action+":", summary.Actions[action])
	}
}

func (rg *ReportGenerator) printRun(run *models.MatchRun, writer io.Writer) {
	fmt.Fprintf(writer, "=== RUN %s ===\n", run.ID)
	fmt.Fprintf(writer, "Target:      %s (%s)\n", run.TargetID, run.TargetKind)
	fmt.Fprintf(writer, "Profile:     %s\n", run.Profile)
	fmt.Fprintf(writer, "Recorded:    %s (%v)\n", run.RecordedAt.Format(time.RFC3339), run.Duration())
	fmt.Fprintf(writer, "Candidates:  %d\n", run.CandidateCount)
	fmt.Fprintf(writer, "Action:      %s", run.Decision.RecommendedAction)
	if run.Decision.AutoApply {
		fmt.Fprintf(writer, " (auto-apply)")
	}
	fmt.Fprintf(writer, "\n")
	fmt.Fprintf(writer, "Strong:      %t\n", run.Decision.HasStrongMatch)

	results, omitted := rg.limitResults(run.Decision.Results)
	if len(results) == 0 {
		fmt.Fprintf(writer, "No matches found\n\n")
		return
	}

	fmt.Fprintf(writer, "\n")
	for i, r := range results {
		line := fmt.Sprintf("  %d. %s [%s] score=%.4f type=%s matching=%s",
			i+1,
			r.CandidateID,
			r.CandidateKind,
			r.Score,
			r.MatchType,
			strings.Join(fieldNames(r.MatchingFields), ","))
		fmt.Fprintf(writer, "%s\n", rg.truncate(line))

		if rg.config.IncludeDifferences {
			for _, d := range r.Differences {
				diff := fmt.Sprintf("       %s: %q vs %q (%.4f)", d.Field, d.TargetValue, d.CandidateValue, d.Score)
				fmt.Fprintf(writer, "%s\n", rg.truncate(diff))
			}
		}
	}
	if omitted > 0 {
		fmt.Fprintf(writer, "  ... and %d more\n", omitted)
	}
	fmt.Fprintf(writer, "\n")
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(runs []models.MatchRun, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(rg.BuildReport(runs))
}

// generateYAMLReport generates a structured YAML report
func (rg *ReportGenerator) generateYAMLReport(runs []models.MatchRun, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)

	if err := encoder.Encode(rg.BuildReport(runs)); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return encoder.Close()
}

// generateCSVReport writes one row per reported candidate, or a single
// row with empty candidate columns for a run without matches.
func (rg *ReportGenerator) generateCSVReport(runs []models.MatchRun, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Run_ID",
			"Tenant_ID",
			"Target_ID",
			"Profile",
			"Recommended_Action",
			"Auto_Apply",
			"Rank",
			"Candidate_ID",
			"Candidate_Kind",
			"Score",
			"Match_Type",
			"Matching_Fields",
			"Differences",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for i := range runs {
		run := &runs[i]
		prefix := []string{
			run.ID,
			run.TenantID,
			run.TargetID,
			run.Profile,
			string(run.Decision.RecommendedAction),
			strconv.FormatBool(run.Decision.AutoApply),
		}

		results, _ := rg.limitResults(run.Decision.Results)
		if len(results) == 0 {
			if err := csvWriter.Write(append(prefix, "", "", "", "", "", "", "")); err != nil {
				return fmt.Errorf("failed to write run record: %w", err)
			}
			continue
		}

		for rank, r := range results {
			record := append(append([]string(nil), prefix...),
				strconv.Itoa(rank+1),
				r.CandidateID,
				string(r.CandidateKind),
				strconv.FormatFloat(r.Score, 'f', 4, 64),
				string(r.MatchType),
				strings.Join(fieldNames(r.MatchingFields), ";"),
				rg.formatDifferences(r.Differences),
			)
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write result record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods

func (rg *ReportGenerator) limitResults(results []models.MatchResult) ([]models.MatchResult, int) {
	if rg.config.MaxResults == 0 || len(results) <= rg.config.MaxResults {
		return results, 0
	}
	return results[:rg.config.MaxResults], len(results) - rg.config.MaxResults
}

func (rg *ReportGenerator) formatDifferences(diffs []models.FieldDifference) string {
	if !rg.config.IncludeDifferences {
		return ""
	}
	parts := make([]string, len(diffs))
	for i, d := range diffs {
		parts[i] = fmt.Sprintf("%s: %s -> %s", d.Field, d.TargetValue, d.CandidateValue)
	}
	return strings.Join(parts, "; ")
}

func (rg *ReportGenerator) truncate(line string) string {
	runes := []rune(line)
	if len(runes) <= rg.config.TableMaxWidth {
		return line
	}
	return string(runes[:rg.config.TableMaxWidth-3]) + "..."
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func fieldNames(fields []models.FieldName) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
