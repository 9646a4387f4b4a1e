package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the vepcache configuration",
		Long:  "Without arguments, prints the effective configuration with file, environment, and defaults merged. Values set here are persisted to ~/.vepcache.yaml; environment variables still win at runtime.",
		Example: `  vepcache config
  vepcache config get vep_url
  vepcache config set db_driver mysql
  vepcache config set max_batch_size 100`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return showConfig()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				if !viper.IsSet(args[0]) {
					return fmt.Errorf("unknown config key %q", args[0])
				}
				fmt.Println(viper.Get(args[0]))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Persist a configuration value to the config file",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return setConfig(args[0], args[1])
			},
		},
	)

	return cmd
}

func showConfig() error {
	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("# empty configuration; see `vepcache config set`")
		return nil
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func setConfig(key, raw string) error {
	viper.Set(key, coerceValue(raw))

	path := viper.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		path = filepath.Join(home, ".vepcache.yaml")
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("%s: %s = %v\n", path, key, viper.Get(key))
	return nil
}

// coerceValue keeps booleans and integers typed in the written yaml rather
// than quoting every value as a string.
func coerceValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}
