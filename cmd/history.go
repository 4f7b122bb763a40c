package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/itiky/chatsync/model"
	"github.com/itiky/chatsync/service/client"
)

const (
	FlagPages = "pages"
)

// GetHistoryCmd returns the history pages print command.
func GetHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Fetch the session and print older history pages",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			pages, err := cmd.Flags().GetInt(FlagPages)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagPages, err)
			}
			if pages <= 0 {
				log.Fatalf("%s flag: must be GT 0", FlagPages)
			}
			cfg := loadConfig(cmd, clientFlagKeys())
			if err := cfg.Client.Validate(); err != nil {
				log.Fatalf("client config: %v", err)
			}

			// Work
			session, closeAll := newClientSession(cfg)
			defer closeAll()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
			defer cancel()

			if err := session.Sync(ctx); err != nil {
				log.Fatalf("initial sync: %v", err)
			}
			snapshot := session.CurrentSnapshot()
			msgs := snapshot.Messages()
			fmt.Printf("Session %s: %d live messages\n", snapshot.SessionID, len(msgs))

			cursor := client.HistoryCursor{}
			if len(msgs) > 0 {
				cursor.BeforeTs = msgs[0].Timestamp
			}

			for i := 0; i < pages; i++ {
				page, err := session.RequestHistoryPage(ctx, cursor, model.HistoryBackward)
				if errors.Is(err, client.ErrHistoryExhausted) {
					fmt.Println("No more history")
					return
				}
				if err != nil {
					log.Fatalf("history page %d: %v", i, err)
				}

				fmt.Printf("Page %d (%d messages, %d duplicates):\n", i, len(page.Messages), page.Duplicates)
				for _, msg := range page.Messages {
					ts := time.UnixMicro(int64(msg.Timestamp * 1e6)).UTC()
					fmt.Printf("  %s [%s] %s: %s\n", ts.Format(time.RFC3339), msg.Kind, msg.ID, msg.Text)
				}
				cursor = page.NextCursor(cursor)
			}
		},
	}
	addClientFlags(cmd)
	cmd.Flags().Int(FlagPages, 1, "(optional) max number of pages to fetch")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetHistoryCmd())
}
