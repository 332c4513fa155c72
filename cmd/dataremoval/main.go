package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eraser-privacy/dataremoval/internal/config"
	"github.com/eraser-privacy/dataremoval/internal/target"
)

var (
	settingsFile  string
	targetsFile   string
	countriesFile string
	profileFile   string
	templatesDir  string
	pauseMs       int

	countryFilter string
	typeFilter    string
	nameFilter    string
	clearConfig   bool
	verbose       bool

	logger = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dataremoval",
		Short: "Send personal data removal requests to people-search sites",
		Long: `dataremoval walks you through removal requests to data brokers and
people-search sites, country by country.

Depending on the site it sends a GDPR or CCPA email, fills in the site's
removal form in a browser, starts a BankID flow for you, or tells you where
to file the request yourself.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			l, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = l
			return validateTypeFilter()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearConfig {
				return runClearConfig()
			}
			return runRemoval(cmd.Flags().Changed("pause"))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&countryFilter, "country", "c", "", "filter by country code (e.g. SE, US)")
	flags.StringVarP(&typeFilter, "type", "t", "", "filter by type ("+typeNames()+")")
	flags.StringVarP(&nameFilter, "target-name", "n", "", "filter by name (case-insensitive substring)")
	flags.StringVar(&settingsFile, "settings", "", "settings file (default is ./settings.yaml or $HOME/.dataremoval/settings.yaml)")
	flags.StringVar(&targetsFile, "targets", "", "target list file (default is ./targets.json)")
	flags.StringVar(&countriesFile, "countries", "", "country configuration file (default is ./countries.json)")
	flags.StringVar(&profileFile, "config", "", "saved profile file (default is ./config.json)")
	flags.StringVar(&templatesDir, "templates", "", "directory with email templates (default is ./templates)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().BoolVar(&clearConfig, "clear-config", false, "delete the saved profile file and exit")
	rootCmd.Flags().IntVar(&pauseMs, "pause", 0, "pause between targets in milliseconds (default from settings)")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(repliesCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(countriesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func typeNames() string {
	names := make([]string, 0, len(target.Types()))
	for _, t := range target.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

func validateTypeFilter() error {
	if typeFilter == "" {
		return nil
	}
	if !target.Type(strings.ToLower(typeFilter)).Known() {
		return fmt.Errorf("invalid --type %q: choose from %s", typeFilter, typeNames())
	}
	return nil
}

// loadSettings reads the settings file and applies path overrides from flags.
func loadSettings() (*config.Settings, error) {
	path := settingsFile
	if path == "" {
		path = config.DefaultSettingsPath()
	}
	s, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	if targetsFile != "" {
		s.TargetsFile = targetsFile
	}
	if countriesFile != "" {
		s.CountriesFile = countriesFile
	}
	if profileFile != "" {
		s.ProfileFile = profileFile
	}
	if templatesDir != "" {
		s.TemplatesDir = templatesDir
	}
	logger.Debug("settings loaded", zap.String("path", path), zap.String("targets", s.TargetsFile))
	return s, nil
}

func profilePath() string {
	if profileFile != "" {
		return profileFile
	}
	if s, err := loadSettings(); err == nil {
		return s.ProfileFile
	}
	return config.DefaultProfileFile
}

func currentFilter(country string) target.Filter {
	return target.Filter{Country: country, Type: typeFilter, Name: nameFilter}
}
