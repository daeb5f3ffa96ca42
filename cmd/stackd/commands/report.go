package commands

import (
	"fmt"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/pkg/topology"
)

// printReport renders r and returns cmdutil.ErrFindings when it holds errors.
func printReport(p *output.Printer, r *topology.Report) error {
	if p.Format() != output.FormatTable {
		if err := p.Print(r); err != nil {
			return err
		}
		return reportResult(r)
	}

	if len(r.Findings) == 0 {
		p.Success(fmt.Sprintf("%s: no findings", r.Source))
		return nil
	}

	rows := output.NewTableData(r.Headers()...)
	for _, row := range r.Rows() {
		row[0] = p.Badge(row[0])
		row[2] = cmdutil.EmptyOr(row[2], "-")
		rows.AddRow(row...)
	}
	if err := output.PrintTable(p.Writer(), rows); err != nil {
		return err
	}
	p.Println()

	errs, warns := len(r.Errors()), len(r.Warnings())
	summary := fmt.Sprintf("%s: %d error(s), %d warning(s)", r.Source, errs, warns)
	if errs > 0 {
		p.Error(summary)
	} else {
		p.Warning(summary)
	}
	return reportResult(r)
}

func reportResult(r *topology.Report) error {
	if r.OK() {
		return nil
	}
	return cmdutil.ErrFindings
}
