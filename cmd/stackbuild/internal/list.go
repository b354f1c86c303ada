package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sciforge/stackbuild/recipe"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available recipes",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	for _, name := range recipe.Names() {
		fmt.Println(name)
	}
	return nil
}
