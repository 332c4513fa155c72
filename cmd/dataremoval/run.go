package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eraser-privacy/dataremoval/internal/browser"
	"github.com/eraser-privacy/dataremoval/internal/config"
	"github.com/eraser-privacy/dataremoval/internal/console"
	"github.com/eraser-privacy/dataremoval/internal/dispatch"
	"github.com/eraser-privacy/dataremoval/internal/email"
	"github.com/eraser-privacy/dataremoval/internal/history"
	"github.com/eraser-privacy/dataremoval/internal/identity"
	"github.com/eraser-privacy/dataremoval/internal/target"
	"github.com/eraser-privacy/dataremoval/internal/template"
)

func runClearConfig() error {
	ui := console.Std()
	path := profilePath()
	removed, err := config.ClearProfile(path)
	if err != nil {
		return err
	}
	if removed {
		ui.Success("Deleted %s.", path)
	} else {
		ui.Warn("%s not found.", path)
	}
	return nil
}

// aborter prints the abort message at most once, whether the interrupt or
// the interrupted prompt gets there first.
type aborter struct {
	once sync.Once
	ui   *console.Console
}

func (a *aborter) report() {
	a.once.Do(func() {
		a.ui.Println("")
		a.ui.Fail("Process aborted by user.")
	})
}

// runRemoval is the interactive removal process. Input file problems are
// returned as errors; everything the user decides, including Ctrl+C, ends
// with a nil error.
func runRemoval(pauseSet bool) error {
	ui := console.Std()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aborted := &aborter{ui: ui}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; !ok {
			return
		}
		cancel()
		aborted.report()
		_ = logger.Sync()
		os.Exit(0)
	}()

	err := interactiveRun(ctx, ui, pauseSet)
	if errors.Is(err, console.ErrAborted) || errors.Is(err, context.Canceled) {
		aborted.report()
		return nil
	}
	return err
}

type session struct {
	ui        *console.Console
	settings  *config.Settings
	profile   *config.Profile
	countries identity.Countries
	targets   []target.Target
}

func interactiveRun(ctx context.Context, ui *console.Console, pauseSet bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if pauseSet {
		settings.PauseMs = pauseMs
	}

	list, err := target.LoadFile(settings.TargetsFile)
	if err != nil {
		return err
	}
	countries, err := identity.LoadCountries(settings.CountriesFile)
	if err != nil {
		return err
	}

	profile, err := config.LoadProfile(settings.ProfileFile)
	if errors.Is(err, config.ErrUnreadable) {
		ui.Warn("Warning: Could not read %s. Starting fresh.", settings.ProfileFile)
		logger.Warn("profile unreadable", zap.Error(err))
		profile = &config.Profile{}
	} else if err != nil {
		return err
	}

	s := &session{ui: ui, settings: settings, profile: profile, countries: countries}

	country := strings.ToUpper(countryFilter)
	switch {
	case country != "":
		ui.Info("Filtering for country specified via flag: %s", country)
	case profile.PrimaryCountry != "":
		country = strings.ToUpper(profile.PrimaryCountry)
		ui.Info("Using primary country from settings: %s", country)
		ui.Info("To process other countries, use the --country flag or clear settings with --clear-config.")
	}
	s.targets = list.Filter(currentFilter(country))
	if len(s.targets) == 0 {
		ui.Fail("No targets match your filter criteria. Exiting.")
		return nil
	}
	logger.Debug("targets selected", zap.Int("count", len(s.targets)), zap.Int("total", len(list.Targets)))

	ui.Banner("Multi-Country Data Removal Automation Tool")

	if country == "" {
		if err := s.selectCountries(); err != nil {
			return err
		}
	}

	rc, err := s.collectUserInfo()
	if err != nil {
		return err
	}

	handlers := s.buildHandlers()

	ui.Println("")
	ui.Bold("--- SUMMARY ---")
	ui.Bold("About to process %d target(s).", len(s.targets))
	start, err := ui.Confirm("Ready to start?")
	if err != nil {
		return err
	}
	if !start {
		ui.Warn("Aborted.")
		return nil
	}

	opts := []dispatch.Option{
		dispatch.WithPause(settings.Pause()),
		dispatch.WithLogger(logger),
	}
	if store, err := history.NewStore(settings.HistoryDB); err != nil {
		logger.Warn("history disabled", zap.Error(err))
		ui.Warn("Could not open run history: %v", err)
	} else {
		defer store.Close()
		opts = append(opts, dispatch.WithRecorder(store, uuid.NewString()))
	}

	ui.Println("")
	ui.Banner("Starting Removal Process")
	summary, err := dispatch.New(handlers, ui, opts...).Run(ctx, rc, s.targets)
	if err != nil {
		return err
	}
	printSummary(ui, summary)

	ui.Println("")
	save, err := ui.Confirm("Save settings for next time?")
	if err != nil {
		return err
	}
	if save {
		ui.Warn("Password will be saved in an obfuscated form.")
		if err := config.SaveProfile(settings.ProfileFile, s.profile); err != nil {
			ui.Fail("Could not save settings: %v", err)
		} else {
			ui.Success("Settings saved to %s", settings.ProfileFile)
		}
	}

	ui.Println("")
	ui.Banner("Process complete.")
	return nil
}

// selectCountries asks which of the countries present in the target list
// to process, and offers to remember a single choice.
func (s *session) selectCountries() error {
	collector := identity.NewCollector(s.countries, s.ui)
	codes, err := collector.SelectCountries(target.Countries(s.targets))
	if err != nil {
		return err
	}
	s.targets = target.RestrictToCountries(s.targets, codes)

	if len(codes) == 1 && s.profile.PrimaryCountry == "" {
		if _, ok := s.countries[codes[0]]; !ok {
			return nil
		}
		primary, err := s.ui.Confirm(fmt.Sprintf("Set %s as primary country?", s.countries.DisplayName(codes[0])))
		if err != nil {
			return err
		}
		if primary {
			s.profile.PrimaryCountry = codes[0]
		}
	}
	return nil
}

// collectUserInfo gathers everything the handlers need and freezes it into
// a dispatch.Context.
func (s *session) collectUserInfo() (*dispatch.Context, error) {
	s.ui.Section("Step 2: Provide Your Personal Information")
	name, err := s.ui.PromptDefault("Enter your full name", s.profile.FullName)
	if err != nil {
		return nil, err
	}
	s.profile.FullName = name

	ids, err := identity.NewCollector(s.countries, s.ui).Collect(target.Countries(s.targets))
	if err != nil {
		return nil, err
	}

	switch {
	case target.NeedsEmail(s.targets):
		if err := s.configureSMTP(); err != nil {
			return nil, err
		}
	case target.NeedsEmailAddress(s.targets) && s.profile.SMTP.Email == "":
		addr, err := s.ui.Prompt("Enter your email address (for forms): ")
		if err != nil {
			return nil, err
		}
		s.profile.SMTP.Email = addr
	}

	return &dispatch.Context{
		FullName:    s.profile.FullName,
		Email:       s.profile.SMTP.Email,
		Identifiers: ids,
	}, nil
}

func (s *session) configureSMTP() error {
	s.ui.Section("Step 3: Configure Email Settings")
	saved := s.profile.SMTP
	if saved.HasCredentials() {
		reuse, err := s.ui.Confirm(fmt.Sprintf("Use saved SMTP settings for %s?", saved.Email))
		if err != nil {
			return err
		}
		if reuse {
			return nil
		}
	}

	var smtp config.SMTPConfig
	for {
		addr, err := s.ui.Prompt("Your email address: ")
		if err != nil {
			return err
		}
		if err := email.ValidateEmail(addr); err != nil {
			s.ui.Fail("Invalid email address: %v", err)
			continue
		}
		smtp.Email = addr
		break
	}

	pw, err := s.ui.Password("Your email App Password: ")
	if err != nil {
		return err
	}
	smtp.Password = pw

	server, port := config.SMTPDefaultsFor(smtp.Email)
	if smtp.Server, err = s.ui.PromptDefault("SMTP server", server); err != nil {
		return err
	}
	portStr, err := s.ui.PromptDefault("SMTP port", strconv.Itoa(port))
	if err != nil {
		return err
	}
	if smtp.Port, err = strconv.Atoi(portStr); err != nil {
		s.ui.Warn("Invalid port '%s', using %d.", portStr, port)
		smtp.Port = port
	}

	s.profile.SMTP = smtp
	return nil
}

// buildHandlers wires a handler for each target kind. Browser handlers are
// replaced by a skip notice when Chrome cannot be found.
func (s *session) buildHandlers() dispatch.Handlers {
	ui := s.ui
	h := dispatch.Handlers{
		ManualEID: &dispatch.ManualHandler{UI: ui},
	}
	if target.NeedsEmail(s.targets) {
		h.Email = &dispatch.EmailHandler{
			Templates: template.NewLoader(s.settings.TemplatesDir),
			Sender:    email.NewSMTPSender(s.profile.SMTP),
			UI:        ui,
		}
	}
	if !target.NeedsBrowser(s.targets) {
		return h
	}

	bcfg := browser.DefaultConfig()
	bcfg.Headless = s.settings.Browser.Headless
	bcfg.Timeout = s.settings.Browser.Timeout()
	bcfg.ConsentTimeout = s.settings.Browser.ConsentTimeout()
	bcfg.ExecPath = s.settings.Browser.ExecPath
	chrome := browser.NewChrome(bcfg)

	ui.Println("")
	ui.Step("Checking for web browser driver...")
	path, err := chrome.Check()
	if err != nil {
		ui.Fail("Could not initialize Chrome driver: %v", err)
		unavailable := &dispatch.BrowserUnavailable{UI: ui, Reason: err}
		h.WebForm, h.MrKoll, h.Ratsit = unavailable, unavailable, unavailable
		return h
	}
	logger.Debug("browser found", zap.String("path", path))
	ui.Success("Driver is ready.")

	h.WebForm = &dispatch.WebFormHandler{Opener: chrome, UI: ui, Logger: logger}
	h.MrKoll = &dispatch.MrKollHandler{
		Opener:       chrome,
		UI:           ui,
		LoginTimeout: s.settings.Browser.LoginTimeout(),
		Settle:       2 * time.Second,
	}
	h.Ratsit = &dispatch.RatsitHandler{Opener: chrome, UI: ui}
	return h
}

func printSummary(ui *console.Console, summary dispatch.Summary) {
	var parts []string
	for _, st := range []history.Status{
		history.StatusSent, history.StatusHandled, history.StatusFailed,
		history.StatusTimeout, history.StatusSkipped,
	} {
		if n := summary.Outcomes[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", st, n))
		}
	}
	if len(parts) > 0 {
		ui.Println("")
		ui.Info("Results: %s", strings.Join(parts, ", "))
	}
}
