package cmd

import (
	"fmt"
	"log"

	"github.com/mholwick/trendbot/trendbot"
	"github.com/spf13/cobra"
)

var (
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Generates a one-shot trend report and prints it to stdout",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := trendbot.New(cfg)
			if err != nil {
				log.Fatalf("error creating trendbot: %s", err.Error())
			}

			report := bot.GenerateTrendReport(ctx)
			for _, msg := range trendbot.RenderReport(report) {
				fmt.Println(msg)
				fmt.Println()
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(reportCmd)
}
