// Package main provides the vepcache annotation service command-line tool.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/vepcache/internal/api"
	"github.com/inodb/vepcache/internal/store"
	"github.com/inodb/vepcache/internal/vep"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "vepcache",
		Short:   "Caching, batching variant annotation service",
		Long:    "vepcache coalesces variant submissions into bounded batches, annotates them against the Ensembl VEP REST API, scores pathogenicity, and caches the results.",
		Version: fmt.Sprintf("%s (%s) built %s", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newInitDBCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// initConfig wires viper to ~/.vepcache.yaml and the environment. Environment
// keys are the uppercased setting names (DB_HOST, VEP_URL, MAX_BATCH_SIZE...).
func initConfig() {
	viper.SetConfigName(".vepcache")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("db_driver", "duckdb")
	viper.SetDefault("db_path", "vepcache.duckdb")
	viper.SetDefault("db_host", "localhost")
	viper.SetDefault("db_port", 3306)
	viper.SetDefault("db_user", "")
	viper.SetDefault("db_password", "")
	viper.SetDefault("db_name", "vepcache")
	viper.SetDefault("vep_url", vep.DefaultEndpoint)
	viper.SetDefault("vep_timeout", "300s")
	viper.SetDefault("max_batch_size", 200)
	viper.SetDefault("max_wait_time", "5s")
	viper.SetDefault("max_workers", 3)
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("ml_model_path", "")
	viper.SetDefault("api_addr", api.DefaultAddr)

	// Missing config file is fine; env and defaults carry.
	_ = viper.ReadInConfig()
}

func storeConfig() store.Config {
	return store.Config{
		Driver:   viper.GetString("db_driver"),
		Path:     viper.GetString("db_path"),
		Host:     viper.GetString("db_host"),
		Port:     viper.GetInt("db_port"),
		User:     viper.GetString("db_user"),
		Password: viper.GetString("db_password"),
		Database: viper.GetString("db_name"),
	}
}

// durationSetting reads a duration that may be given either as a Go duration
// string ("5s") or as a bare number of seconds ("5").
func durationSetting(key string) time.Duration {
	raw := viper.GetString(key)
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
