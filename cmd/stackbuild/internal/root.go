package internal

import (
	"log"

	"github.com/spf13/cobra"

	// Recipes register themselves on import.
	_ "github.com/sciforge/stackbuild/recipes/tensorflow"
)

var rootCmd = &cobra.Command{
	Use:   "stackbuild",
	Short: "stackbuild builds scientific software from recipes",
	Long:  `stackbuild configures, compiles, tests and installs scientific software packages from build recipes.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}
