package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/vepcache/internal/store"
)

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the annotation cache schema and exit",
		Long:  "Create the annotations and transcripts tables idempotently on the configured backend. Safe to run against an existing database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitDB()
		},
	}
}

func runInitDB() error {
	st, err := store.Open(storeConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.CreateSchema(context.Background()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	driver := viper.GetString("db_driver")
	if driver == "duckdb" {
		fmt.Printf("Schema ready in %s (%s)\n", viper.GetString("db_path"), driver)
	} else {
		fmt.Printf("Schema ready in %s on %s (%s)\n",
			viper.GetString("db_name"), viper.GetString("db_host"), driver)
	}
	return nil
}
