package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eraser-privacy/dataremoval/internal/config"
	"github.com/eraser-privacy/dataremoval/internal/console"
	"github.com/eraser-privacy/dataremoval/internal/history"
	"github.com/eraser-privacy/dataremoval/internal/identity"
	"github.com/eraser-privacy/dataremoval/internal/replies"
	"github.com/eraser-privacy/dataremoval/internal/target"
	"github.com/eraser-privacy/dataremoval/internal/template"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List targets matching the filters",
		Long:  "Show the targets a run with the same --country, --type and --target-name filters would process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
}

func statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show removal request history and statistics",
		Long:  "Display the outcome of recently processed targets and overall totals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent records to show")

	return cmd
}

func templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List built-in email templates",
		Long:  "Show the email templates compiled into the binary. A file with the same name in the templates directory takes precedence.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates()
		},
	}
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the default values",
		Long:  "Create the settings file (--settings, or the default location) filled with every default, ready to edit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsFile
			if path == "" {
				path = config.DefaultSettingsPath()
			}
			return runInit(console.Std(), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing settings file")

	return cmd
}

func countriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "countries",
		Short: "List configured countries and the identifiers they ask for",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCountries(console.Std())
		},
	}
}

func repliesCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "replies",
		Short: "Check the inbox for answers to removal emails",
		Long: `Read recent mail over IMAP with the saved email account and sort the
messages that came from a target into removed, rejected, pending, bounced,
or needing further action.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runReplies(ctx, days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "How many days back to look")

	return cmd
}

func runInit(ui *console.Console, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	if err := config.SaveSettings(path, config.DefaultSettings()); err != nil {
		return err
	}
	ui.Success("Wrote %s.", path)
	return nil
}

func runCountries(ui *console.Console) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	countries, err := identity.LoadCountries(settings.CountriesFile)
	if err != nil {
		return err
	}

	ui.Bold("Countries (%d)", len(countries))
	for _, code := range countries.Codes() {
		ui.Println("")
		ui.Println("%s  %s", code, countries.DisplayName(code))
		for _, spec := range countries[code].Identifiers {
			line := "  " + spec.Key
			if spec.Optional {
				line += " (optional)"
			}
			ui.Println("%s", line)
		}
	}
	return nil
}

func runList() error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	list, err := target.LoadFile(settings.TargetsFile)
	if err != nil {
		return err
	}

	ui := console.Std()
	targets := list.Filter(currentFilter(countryFilter))
	ui.Bold("Targets (%d of %d)", len(targets), len(list.Targets))

	for _, t := range targets {
		ui.Println("")
		ui.Println("%s [%s] %s", t.Name, t.Country, t.Type)
		switch k := t.Kind.(type) {
		case target.Email:
			ui.Println("  Contact:  %s", k.Contact)
			ui.Println("  Template: %s", k.Template)
		case target.WebForm:
			ui.Println("  URL:      %s", k.URL)
			names := make([]string, 0, len(k.Fields))
			for _, f := range k.Fields {
				names = append(names, f.Name)
			}
			ui.Println("  Fields:   %s", strings.Join(names, ", "))
		case nil:
			ui.Warn("  Unknown type, will be skipped")
		default:
			ui.Println("  URL:      %s", t.URL())
		}
		if t.Notes != "" {
			ui.Println("  Notes:    %s", t.Notes)
		}
	}
	return nil
}

func runStatus(limit int) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := history.NewStore(settings.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	stats, err := store.GetStats()
	if err != nil {
		return err
	}

	ui := console.Std()
	total := 0
	for _, n := range stats {
		total += n
	}
	ui.Bold("Removal history")
	ui.Println("  Total processed: %d", total)
	for _, st := range []history.Status{
		history.StatusSent, history.StatusHandled, history.StatusFailed,
		history.StatusTimeout, history.StatusSkipped,
	} {
		ui.Println("  %-8s %d", st+":", stats[st])
	}

	records, err := store.GetRecentRequests(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ui.Println("")
	ui.Bold("Recent (last %d)", limit)
	for _, r := range records {
		line := fmt.Sprintf("%s  %-8s %s [%s] %s", r.ProcessedAt.Local().Format("2006-01-02 15:04"), r.Status, r.TargetName, r.Country, r.TargetType)
		switch r.Status {
		case history.StatusFailed, history.StatusTimeout:
			ui.Fail("%s", line)
		default:
			ui.Println("%s", line)
		}
		if r.Detail != "" && r.Status != history.StatusSent {
			ui.Println("    %s", r.Detail)
		}
	}
	return nil
}

func runTemplates() error {
	ui := console.Std()
	ui.Bold("Built-in templates")
	for _, name := range template.AvailableTemplates() {
		tmpl, err := template.NewLoader("").Load(name)
		if err != nil {
			ui.Fail("%s: %v", name, err)
			continue
		}
		ui.Println("  %-10s %s", name, tmpl.Subject)
	}
	return nil
}

func runReplies(ctx context.Context, days int) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	list, err := target.LoadFile(settings.TargetsFile)
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(settings.ProfileFile)
	if err != nil {
		return err
	}
	if !profile.SMTP.HasCredentials() {
		return fmt.Errorf("no saved email account in %s; run a removal and save settings first", settings.ProfileFile)
	}

	imapCfg := settings.IMAP
	if imapCfg.Server == "" {
		imapCfg.Server = config.IMAPServerFor(profile.SMTP.Email)
	}
	if imapCfg.Server == "" {
		return fmt.Errorf("no IMAP server known for %s; set imap.server in the settings file", profile.SMTP.Email)
	}

	ui := console.Std()
	mailbox := replies.NewMailbox(imapCfg, profile.SMTP, list.Filter(currentFilter(countryFilter)), logger)
	ui.Step("Connecting to %s...", imapCfg.Server)
	if err := mailbox.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mailbox.Close(); err != nil {
			logger.Debug("IMAP logout failed", zap.Error(err))
		}
	}()

	found, err := mailbox.FetchReplies(ctx, days)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		ui.Info("No replies from targets in the last %d days.", days)
		return nil
	}

	results := make([]replies.Classification, 0, len(found))
	for i := range found {
		results = append(results, mailbox.Classify(&found[i]))
	}

	ui.Bold("Replies (last %d days)", days)
	for _, c := range results {
		line := fmt.Sprintf("%s  %-15s %s: %s", c.Reply.ReceivedAt.Local().Format("2006-01-02"), c.Kind, c.Reply.TargetName, c.Reply.Subject)
		switch c.Kind {
		case replies.KindRemoved:
			ui.Success("%s", line)
		case replies.KindActionRequired, replies.KindBounced:
			ui.Warn("%s", line)
		case replies.KindRejected:
			ui.Fail("%s", line)
		default:
			ui.Println("%s", line)
		}
		switch {
		case c.Offsite:
			ui.Println("    %s (not on a %s domain, check before opening)", c.ActionURL, c.Reply.TargetName)
		case c.ActionURL != "":
			ui.Println("    %s", c.ActionURL)
		}
	}

	counts := replies.Summarize(results)
	ui.Println("")
	ui.Println("Removed: %d, action required: %d, rejected: %d, pending: %d, bounced: %d, unknown: %d",
		counts[replies.KindRemoved], counts[replies.KindActionRequired], counts[replies.KindRejected],
		counts[replies.KindPending], counts[replies.KindBounced], counts[replies.KindUnknown])
	return nil
}
