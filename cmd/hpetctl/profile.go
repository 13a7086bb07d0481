package main

import (
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print the simulated HPET profile as YAML.",
	Long: "profile prints the profile --sim uses: the --sim-profile file with " +
		"defaults filled in, or the built-in default. The output is a valid " +
		"--sim-profile file.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := loadProfile()
		if err != nil {
			return err
		}
		data, err := profile.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
}
