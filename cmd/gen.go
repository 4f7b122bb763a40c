package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/itiky/chatsync/storage"
)

const (
	FlagFilePath      = "file-path"
	FlagHistorySize   = "history-size"
	FlagOperatorShare = "operator-share"
)

// GetGenerateCmd returns the command building the chat history file the stub server is seeded from.
func GetGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate mock chat history for the stub server",
		Long: "Generates a chat history of visitor and operator messages (one per second, ending now)\n" +
			"and saves it as a gob file for the server --file-path flag.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagFilePath, err)
			}
			historySize, err := cmd.Flags().GetInt(FlagHistorySize)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagHistorySize, err)
			}
			operatorShare, err := cmd.Flags().GetFloat64(FlagOperatorShare)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagOperatorShare, err)
			}

			log.Printf("Generating %d messages (operator share: %.2f) into %s", historySize, operatorShare, filePath)
			if err := storage.GenAndSaveInitialHistory(filePath, historySize, operatorShare); err != nil {
				log.Fatalf("generate: %v", err)
			}
		},
	}
	cmd.Flags().String(FlagFilePath, "./resources/history.dat", "(optional) output file path")
	cmd.Flags().Int(FlagHistorySize, 100000, "(optional) number of messages")
	cmd.Flags().Float64(FlagOperatorShare, 0.5, "(optional) fraction of operator messages in [0, 1]")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetGenerateCmd())
}
