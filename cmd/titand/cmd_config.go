package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"titanfabric/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage configuration history",
}

var configHistoryCmd = &cobra.Command{
	Use:   "history <type> <key>",
	Short: "List the version history of a configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(configDir, envTag)
		if err != nil {
			return err
		}
		versions, err := mgr.History().GetAllVersions(config.ConfigType(args[0]), args[1])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("no versions recorded")
			return nil
		}
		for _, v := range versions {
			fmt.Printf("v%d  %s  %s  %q  tags=%v\n",
				v.Version, v.Timestamp.Format("2006-01-02 15:04:05"), v.Author, v.Comment, v.Tags)
		}
		return nil
	},
}

var configRollbackCmd = &cobra.Command{
	Use:   "rollback <type> <key> <version>",
	Short: "Make an earlier version the live configuration",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("version must be an integer: %w", err)
		}
		mgr, err := config.NewManager(configDir, envTag)
		if err != nil {
			return err
		}
		v, err := mgr.RollbackToVersion(config.ConfigType(args[0]), args[1], version)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back to v%d, recorded as v%d\n", version, v.Version)
		return nil
	},
}

var configDiffCmd = &cobra.Command{
	Use:   "diff <type> <key> <v1> <v2>",
	Short: "Show the structural diff between two versions",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		v1, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("v1 must be an integer: %w", err)
		}
		v2, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("v2 must be an integer: %w", err)
		}
		mgr, err := config.NewManager(configDir, envTag)
		if err != nil {
			return err
		}
		diff, err := mgr.History().CompareVersions(config.ConfigType(args[0]), args[1], v1, v2)
		if err != nil {
			return err
		}
		if diff == "" {
			fmt.Println("versions are identical")
			return nil
		}
		fmt.Print(diff)
		return nil
	},
}

var configExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export every history to one file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(configDir, envTag)
		if err != nil {
			return err
		}
		if err := mgr.History().Export(args[0]); err != nil {
			return err
		}
		fmt.Printf("history exported to %s\n", args[0])
		return nil
	},
}

var configImportMerge bool

var configImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import a history bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(configDir, envTag)
		if err != nil {
			return err
		}
		if err := mgr.History().Import(args[0], configImportMerge); err != nil {
			return err
		}
		fmt.Printf("history imported from %s\n", args[0])
		return nil
	},
}

func init() {
	configImportCmd.Flags().BoolVar(&configImportMerge, "merge", false, "append new versions instead of replacing")
	configCmd.AddCommand(configHistoryCmd)
	configCmd.AddCommand(configRollbackCmd)
	configCmd.AddCommand(configDiffCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
}
