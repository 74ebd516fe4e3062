package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

func displayPoolStats(stats snapper.PoolStats, elapsed time.Duration) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Worker", "Device", "Requests", "Failures", "Avg snap time", "Last snap time"})

	var requests uint64
	for _, stat := range stats.Workers {
		requests += stat.Requests
		var avg time.Duration
		if stat.Requests != 0 {
			avg = stat.TotalSnapTime / time.Duration(stat.Requests)
		}
		table.Append([]string{
			stat.Id,
			stat.Device,
			fmt.Sprintf("%d", stat.Requests),
			fmt.Sprintf("%d", stat.Failures),
			avg.String(),
			stat.LastSnapTime.String(),
		})
	}
	table.SetFooter([]string{"", "", fmt.Sprintf("%d", requests), "", "TOTAL", elapsed.String()})

	table.Render()
	logger.Noticef("capture statistics\n%s", buf.String())
}
