package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dvloznov/findataops/internal/domain"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printRuns(w io.Writer, runs []*domain.RunRecord) {
	tw := newTable(w)
	fmt.Fprintln(tw, "RUN\tSTAGE\tSTATUS\tSOURCE\tINSTITUTION\tREAD\tLOADED\tDROPPED\tDUPLICATE\tANOMALIES\tFORECASTS")
	for _, r := range runs {
		if r == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.RunID, r.Stage, r.Status, r.Source, r.Institution,
			r.RowsRead, r.RowsLoaded, r.RowsDropped, r.RowsDuplicate,
			r.AnomaliesFlagged, r.ForecastsProduced)
	}
	tw.Flush()
}

func printAnomalies(w io.Writer, recs []domain.AnomalyRecord) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTYPE\tSEVERITY\tCATEGORY\tAMOUNT\tZ\tACK\tDRIVER")
	for _, a := range recs {
		ack := "-"
		if a.Acknowledged {
			ack = a.AcknowledgedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			a.ID, a.Type, a.Severity, a.Category, a.Amount.StringFixed(2), a.ZScore, ack, a.Driver)
	}
	tw.Flush()
}

func printForecasts(w io.Writer, recs []domain.ForecastRecord) {
	tw := newTable(w)
	fmt.Fprintln(tw, "CATEGORY\tMONTH\tH\tFORECAST\tLOWER\tUPPER\tQUALITY")
	for _, f := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			f.Category, f.ForecastDate.Format("2006-01"), f.Horizon,
			f.ForecastAmount.StringFixed(2), f.LowerBound.StringFixed(2), f.UpperBound.StringFixed(2), f.QualityTag)
	}
	tw.Flush()
}
