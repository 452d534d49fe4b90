package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/echochamber/arena/internal/storage/memory"
)

// inspectExports prints the summary of each match export file.
func inspectExports(w io.Writer, paths []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MATCH\tPLAYER\tDURATION\tFIRED\tHITS\tDAMAGE\tMAX MULT\tRECONNECTS\tFILE")
	for _, path := range paths {
		export, err := memory.ReadExport(path)
		if err != nil {
			return err
		}
		s := export.Summary
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f\t%.2f\t%d\t%s\n",
			export.MatchID,
			export.LocalPlayerID,
			(time.Duration(s.DurationSeconds * float64(time.Second))).Round(time.Second),
			s.PulsesFired,
			s.Hits,
			s.DamageDealt,
			s.MaxMultiplier,
			s.Reconnects,
			path,
		)
	}
	return tw.Flush()
}
