package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

type printer struct {
	out    io.Writer
	format OutputFormat
}

func newPrinter(out io.Writer, format string) (*printer, error) {
	switch f := OutputFormat(strings.ToLower(format)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return &printer{out: out, format: f}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// print renders v as JSON or YAML, or through render for the table format.
func (p *printer) print(v any, render func(table.Writer)) error {
	switch p.format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputFormatYAML:
		return p.yaml(v)
	default:
		t := p.table()
		render(t)
		t.Render()
		return nil
	}
}

// yaml goes through JSON first so field names match the json tags.
func (p *printer) yaml(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to convert to YAML: %w", err)
	}
	_, err = p.out.Write(out)
	return err
}

func (p *printer) table() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, col := range cols {
		row[i] = text.FgHiCyan.Sprint(strings.ToUpper(col))
	}
	return row
}

func statusCell(status string) string {
	switch status {
	case string(models.RunStatusCompleted):
		return text.FgGreen.Sprint(status)
	case string(models.RunStatusFailed):
		return text.FgRed.Sprint(status)
	case string(models.RunStatusRunning), string(models.StepStatusWaitingForTask):
		return text.FgYellow.Sprint(status)
	case string(models.RunStatusCanceled), string(models.StepStatusSkipped):
		return text.FgHiBlack.Sprint(status)
	default:
		return status
	}
}

func optional(s *string) string {
	if s == nil || *s == "" {
		return text.FgHiBlack.Sprint("-")
	}
	return *s
}

func (p *printer) workflows(workflows []models.Workflow) error {
	return p.print(workflows, func(t table.Writer) {
		t.AppendHeader(header("key", "version", "active", "scope", "name", "id"))
		for _, wf := range workflows {
			scope := "global"
			if !wf.IsGlobal() {
				scope = *wf.TenantID
			}
			t.AppendRow(table.Row{wf.Key, wf.Version, wf.IsActive, scope, wf.Name, wf.ID})
		}
	})
}

func (p *printer) runs(runs []models.WorkflowRun) error {
	return p.print(runs, func(t table.Writer) {
		t.AppendHeader(header("id", "status", "workflow", "created", "error"))
		for _, run := range runs {
			t.AppendRow(table.Row{run.ID, statusCell(string(run.Status)), run.WorkflowID,
				run.CreatedAt.Format("2006-01-02 15:04:05"), optional(run.ErrorMessage)})
		}
	})
}

func (p *printer) run(run *models.WorkflowRun) error {
	return p.runs([]models.WorkflowRun{*run})
}

func (p *printer) runStatus(view *models.RunStatusView) error {
	return p.print(view, func(t table.Writer) {
		title := fmt.Sprintf("Run %s  %s", view.Run.ID, statusCell(string(view.Run.Status)))
		if view.Workflow != nil {
			title = fmt.Sprintf("%s  (%s v%d)", title, view.Workflow.Key, view.Workflow.Version)
		}
		t.SetTitle(title)
		t.AppendHeader(header("#", "step", "type", "status", "run step id", "task", "error"))
		for _, step := range view.Steps {
			t.AppendRow(table.Row{step.OrderIndex, step.StepKey, step.StepType, statusCell(string(step.Status)),
				step.ID, optional(step.AgentTaskID), optional(step.ErrorMessage)})
		}
	})
}

func (p *printer) runSteps(steps []models.WorkflowRunStep) error {
	return p.print(steps, func(t table.Writer) {
		t.AppendHeader(header("run step id", "run", "status", "task", "error"))
		for _, rs := range steps {
			t.AppendRow(table.Row{rs.ID, rs.RunID, statusCell(string(rs.Status)), optional(rs.AgentTaskID), optional(rs.ErrorMessage)})
		}
	})
}

func (p *printer) syncResults(results []*services.SyncResult) error {
	return p.print(results, func(t table.Writer) {
		t.AppendHeader(header("tenant", "checked", "updated", "advanced runs", "errors"))
		for _, r := range results {
			t.AppendRow(table.Row{r.TenantID, r.Checked, r.Updated, len(r.AdvancedRuns), len(r.Errors)})
		}
		for _, r := range results {
			for _, e := range r.Errors {
				t.AppendFooter(table.Row{r.TenantID, e.RunID, e.TaskID, "", text.FgRed.Sprint(e.Error)})
			}
		}
	})
}

func (p *printer) task(task *models.AgentTask) error {
	return p.print(task, func(t table.Writer) {
		t.AppendHeader(header("id", "tenant", "agent", "type", "status", "error"))
		t.AppendRow(table.Row{task.ID, task.TenantID, task.AgentID, task.TaskType, statusCell(string(task.Status)), optional(task.ErrorMessage)})
	})
}
