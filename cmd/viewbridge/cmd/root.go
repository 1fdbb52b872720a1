package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/accounts"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/policy"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/projects"
	"github.com/terraconstructs/viewbridge/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "viewbridge",
	Short: "Repository viewer bridged onto a host's sessions and access rules",
	Long: `viewbridge serves an embedded repository viewer that trusts the host application
for every identity and permission decision. Requests are authenticated through the
host session, HTTP Basic or anonymously, and all access checks are delegated to the
host's access rules.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.SetConfigName("viewbridge")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(".")
			viper.AddConfigPath("/etc/viewbridge")
		}
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		if cfg.Debug {
			log.SetLevel(log.DebugLevel)
		}
		if used := viper.ConfigFileUsed(); used != "" {
			log.WithField("file", used).Debug("configuration file loaded")
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./viewbridge.yaml)")
	flags.String("db-url", "", "Database connection URL (env: VIEWBRIDGE_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: VIEWBRIDGE_SERVER_ADDR)")
	flags.String("server-url", "", "Public base URL (env: VIEWBRIDGE_SERVER_URL)")
	flags.Bool("debug", false, "Enable debug logging (env: VIEWBRIDGE_DEBUG)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"server_addr":  "server-addr",
		"server_url":   "server-url",
		"debug":        "debug",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(accounts.AccountsCmd)
	rootCmd.AddCommand(projects.ProjectsCmd)
	rootCmd.AddCommand(policy.PolicyCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
