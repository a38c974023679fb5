package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"titanfabric/internal/subjects"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Inspect the subject catalog",
}

var subjectsCheckCmd = &cobra.Command{
	Use:   "check <subject>",
	Short: "Classify a subject string and suggest migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := args[0]
		if cls, ok := subjects.ClassOf(subject); ok {
			fmt.Printf("%s: standard (class %s)\n", subject, cls)
			return nil
		}
		fmt.Printf("%s: non-standard\n", subject)
		if replacement, ok := subjects.Migrations[subject]; ok {
			fmt.Printf("deprecated: migrate to %s\n", replacement)
		}
		return nil
	},
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the canonical subjects",
	Run: func(cmd *cobra.Command, args []string) {
		for _, s := range subjects.Canonical() {
			fmt.Println(s)
		}
	},
}

func init() {
	subjectsCmd.AddCommand(subjectsCheckCmd)
	subjectsCmd.AddCommand(subjectsListCmd)
}
