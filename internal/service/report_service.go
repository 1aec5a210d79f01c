package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/olekukonko/tablewriter"

	"github.com/quantale/polyarb/internal/domain"
)

// ReportService exposes persisted projection runs to the API and the
// command-line report mode.
type ReportService struct {
	runs   domain.RunStore
	groups domain.GroupStore
	logger *slog.Logger
}

// NewReportService creates a ReportService.
func NewReportService(runs domain.RunStore, groups domain.GroupStore, logger *slog.Logger) *ReportService {
	return &ReportService{
		runs:   runs,
		groups: groups,
		logger: logger.With(slog.String("component", "report_service")),
	}
}

// GetRun returns a single projection run by ID.
func (s *ReportService) GetRun(ctx context.Context, id string) (domain.ProjectionRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return domain.ProjectionRun{}, fmt.Errorf("report_service: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRecent returns the most recent runs across all groups.
func (s *ReportService) ListRecent(ctx context.Context, limit int) ([]domain.ProjectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("report_service: list recent: %w", err)
	}
	return runs, nil
}

// ListByGroup returns a group's runs, newest first.
func (s *ReportService) ListByGroup(ctx context.Context, groupID string, opts domain.ListOpts) ([]domain.ProjectionRun, error) {
	runs, err := s.runs.ListByGroup(ctx, groupID, opts)
	if err != nil {
		return nil, fmt.Errorf("report_service: list by group %s: %w", groupID, err)
	}
	return runs, nil
}

// PrintRecent renders the most recent runs as a table, one row per run.
// Used by the one-shot report mode.
func (s *ReportService) PrintRecent(ctx context.Context, w io.Writer, limit int) error {
	runs, err := s.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no projection runs recorded")
		return nil
	}

	titles := s.groupTitles(ctx, runs)

	table := tablewriter.NewWriter(w)
	table.Header("Time", "Group", "Status", "Iters", "Gap", "Profit", "Signals")
	for _, run := range runs {
		title := titles[run.GroupID]
		if title == "" {
			title = run.GroupID
		}
		table.Append(
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			title,
			string(run.Status),
			fmt.Sprintf("%d", run.Iterations),
			fmt.Sprintf("%.2e", run.Gap),
			fmt.Sprintf("%.6f", run.Profit),
			summarizeDirections(run.Directions),
		)
	}
	table.Render()
	return nil
}

// PrintRun renders one run in detail with a per-condition price table.
func (s *ReportService) PrintRun(ctx context.Context, w io.Writer, id string) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	group, err := s.groups.GetByID(ctx, run.GroupID)
	if err != nil {
		return fmt.Errorf("report_service: load group %s: %w", run.GroupID, err)
	}

	fmt.Fprintf(w, "run %s  group %q  status %s  iterations %d  gap %.2e  profit %.6f\n",
		run.ID, group.Title, run.Status, run.Iterations, run.Gap, run.Profit)

	table := tablewriter.NewWriter(w)
	table.Header("#", "Condition", "Market", "Fair", "Direction")
	for i, c := range group.Conditions {
		theta, mu, dir := "-", "-", "-"
		if i < len(run.Theta) {
			theta = fmt.Sprintf("%.4f", run.Theta[i])
		}
		if i < len(run.Mu) {
			mu = fmt.Sprintf("%.4f", run.Mu[i])
		}
		if i < len(run.Directions) {
			dir = string(run.Directions[i])
		}
		table.Append(fmt.Sprintf("%d", i), c.Label, theta, mu, dir)
	}
	table.Render()
	return nil
}

// groupTitles resolves group titles for display, tolerating load failures.
func (s *ReportService) groupTitles(ctx context.Context, runs []domain.ProjectionRun) map[string]string {
	titles := make(map[string]string)
	for _, run := range runs {
		if _, ok := titles[run.GroupID]; ok {
			continue
		}
		g, err := s.groups.GetByID(ctx, run.GroupID)
		if err != nil {
			titles[run.GroupID] = ""
			continue
		}
		titles[run.GroupID] = g.Title
	}
	return titles
}

// summarizeDirections compresses a direction vector into "2B/1S" form.
func summarizeDirections(dirs []domain.TradeDirection) string {
	if len(dirs) == 0 {
		return "-"
	}
	buys, sells := 0, 0
	for _, d := range dirs {
		switch d {
		case domain.DirectionBuy:
			buys++
		case domain.DirectionSell:
			sells++
		}
	}
	if buys == 0 && sells == 0 {
		return "hold"
	}
	return fmt.Sprintf("%dB/%dS", buys, sells)
}
