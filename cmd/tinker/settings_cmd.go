package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tinkerdev/tinker/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change tinker settings",
	}
	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func settingsManager() (*settings.Manager, error) {
	dir, err := filepath.Abs(flagDir)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}
	manager := settings.NewManager(dir)
	if err := manager.Initialize(); err != nil {
		return nil, err
	}
	return manager, nil
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one setting, or all settings when no key is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := settingsManager()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				value, err := manager.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Println(value)
				return nil
			}

			pairs, err := manager.All()
			if err != nil {
				return err
			}
			for _, pair := range pairs {
				fmt.Printf("%s=%s\n", pair[0], pair[1])
			}
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := settingsManager()
			if err != nil {
				return err
			}
			return manager.Set(args[0], args[1])
		},
	}
}
