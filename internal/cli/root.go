// internal/cli/root.go
package ragguard

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
)

var (
	cfgFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// buildApp is swapped in tests.
var buildApp = app.Build

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "ragguard",
	Short:        "ragguard: guarded retrieval-augmented answers over your documentation",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := appconfig.LoadDotEnv(); err != nil {
			return err
		}
		if err := ensureConfigLoaded(); err != nil {
			return err
		}

		cfg, err := appconfig.Decode(viper.GetViper())
		if err != nil {
			return err
		}
		if cfg.ConfigPath == "" && cfgFile != appconfig.DefaultConfigPath {
			cfg.ConfigPath = cfgFile
		}
		currentConfig = &cfg

		if err := initLogging(cmd, cfg); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetDebug(cfg.Debug)
		return nil
	},
}

// initLogging keeps full-screen commands off stdout.
func initLogging(cmd *cobra.Command, cfg appconfig.Config) error {
	if cmd.Annotations["logging"] == "file-only" {
		return logging.InitFileOnly(cfg.LogFilePath())
	}
	return logging.Init(cfg.LogFilePath())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	v := viper.GetViper()
	appconfig.ApplyDefaults(v)
	appconfig.BindEnv(v)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (e.g., config/config.json)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("logFile", "", "path to the log file")
	rootCmd.PersistentFlags().String("dataDir", "", "directory for indexes, sessions, and metrics")
	rootCmd.PersistentFlags().String("backend", "", "backend type: ollama, openai, llamacpp, or none")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("logFile", rootCmd.PersistentFlags().Lookup("logFile"))
	_ = viper.BindPFlag("dataDir", rootCmd.PersistentFlags().Lookup("dataDir"))
	_ = viper.BindPFlag("backend.type", rootCmd.PersistentFlags().Lookup("backend"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// ensureConfigLoaded reads the config file. Only the default path may be missing.
func ensureConfigLoaded() error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if missing && (cfgFile == "" || cfgFile == appconfig.DefaultConfigPath) {
			return nil
		}
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// getConfig returns the loaded application configuration.
func getConfig() (appconfig.Config, error) {
	if currentConfig == nil {
		return appconfig.Config{}, errors.New("configuration is not loaded")
	}
	return *currentConfig, nil
}

// withApp builds the application, runs fn, and closes it.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logging.LogEvent("[CLI] closing components: %v", cerr)
		}
	}()
	return fn(ctx, a)
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
