package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bedtime-stories/server/internal/interfaces"
)

var titlesCmd = &cobra.Command{
	Use:   "titles",
	Short: "List the saved stories of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return errors.New("--user is required")
		}
		core, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()
		return printTitles(cmd.Context(), core.Manager, userID, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(titlesCmd)
}

type titleLister interface {
	ListTitles(ctx context.Context, userID string) ([]interfaces.StoryListing, error)
}

func printTitles(ctx context.Context, lister titleLister, user string, out io.Writer) error {
	listings, err := lister.ListTitles(ctx, user)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(out, "No saved stories yet.")
		return nil
	}
	for i, listing := range listings {
		fmt.Fprintf(out, "%d. %s", i+1, listing.Title)
		name, _ := listing.Metadata["name"].(string)
		place, _ := listing.Metadata["place"].(string)
		if name != "" && place != "" {
			fmt.Fprintf(out, " (%s in %s)", name, place)
		}
		fmt.Fprintln(out)
	}
	return nil
}
