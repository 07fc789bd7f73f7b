// Package cmd implements the pathsense command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/pathsense/internal/config"
	"github.com/MeKo-Tech/pathsense/internal/models"
	"github.com/MeKo-Tech/pathsense/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pathsense",
	Short: "Hazard guidance for pedestrians from camera and depth frames",
	Long: `pathsense turns a camera frame and a depth map into a short walking
directive: continue, move left, move right or stop, naming the obstacle ahead,
plus a proximity-driven haptic feedback level.

Semantic segmentation and depth run as ONNX models. Depth can come from a
sensor (16-bit PNG/TIFF in millimetres or raw float32) or from a monocular
depth model.

Examples:
  pathsense analyze frame.jpg --depth depth.png
  pathsense analyze *.jpg --estimate-depth --format json
  pathsense zones --aspect 0.75
  pathsense serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.PersistentFlags().GetBool("version"); v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "pathsense version "+version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/pathsense, /etc/pathsense)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	mustBind("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	mustBind("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}
		setupLogging(globalConfig)
	}
}

// setupLogging installs a JSON slog handler on stderr; stdout carries results.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFileWithoutValidation(cfgFile)
	} else {
		globalConfig, err = configLoader.LoadWithoutValidation()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the configuration with bound command flags applied.
// Commands validate it before use.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}

	// Flag binding happens after the initial load, so unmarshal again.
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

// mustBind binds a flag to a viper key; a failure is a programming error.
func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}
