package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/raymccarthy5/multi-tenant-analytics/pkg/analytics"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	APIKey     string `json:"api_key"`
}

const (
	defaultAPIBaseURL = "http://localhost:4000"
	requestTimeout    = 15 * time.Second
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "track":
		err = commandTrack(args)
	case "events":
		err = commandEvents(args)
	case "analytics":
		err = commandAnalytics(args)
	case "usage":
		err = commandUsage(args)
	case "funnel":
		err = commandFunnel(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	key := fs.String("key", "", "Tenant API key (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	secret := strings.TrimSpace(*key)
	if secret == "" {
		var err error
		if secret, err = promptKey(); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New("api key required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.APIKey = secret

	client, err := analytics.New(cfg.APIBaseURL, cfg.APIKey)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	// any authenticated read proves the key
	if _, err := client.Usage(ctx, 1); err != nil {
		return fmt.Errorf("verify api key: %w", err)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func promptKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read api key: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	fmt.Print("API key: ")
	raw, err := term.ReadPassword(fd)
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func commandTrack(args []string) error {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	eventType := fs.String("type", "", "Event type")
	userID := fs.String("user", "", "Optional user identifier")
	sessionID := fs.String("session", "", "Optional session identifier")
	props := fs.String("props", "", "Optional JSON object of properties")
	fs.Parse(args)

	if strings.TrimSpace(*eventType) == "" {
		return errors.New("--type is required")
	}
	event := analytics.Event{Type: *eventType, UserID: *userID, SessionID: *sessionID}
	if strings.TrimSpace(*props) != "" {
		if err := json.Unmarshal([]byte(*props), &event.Properties); err != nil {
			return fmt.Errorf("--props must be a JSON object: %w", err)
		}
	}

	client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	res, err := client.Track(ctx, event)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", res.EventID, res.Timestamp.Format(time.RFC3339Nano))
	return nil
}

func commandEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	eventType := fs.String("type", "", "Filter by event type")
	userID := fs.String("user", "", "Filter by user identifier")
	since := fs.Duration("since", 0, "Only events newer than this duration")
	limit := fs.Int("limit", 20, "Maximum number of events to display")
	recent := fs.Bool("recent", false, "Read from the event store instead of the index")
	fs.Parse(args)

	params := analytics.SearchParams{Type: *eventType, UserID: *userID, Limit: *limit}
	if *since > 0 {
		params.Start = time.Now().Add(-*since)
	}

	client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var res analytics.SearchResult
	if *recent {
		res, err = client.RecentEvents(ctx, params)
	} else {
		res, err = client.SearchEvents(ctx, params)
	}
	if err != nil {
		return err
	}
	for _, e := range res.Events {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.UserID, e.ID)
	}
	fmt.Printf("%d of %d events\n", res.Count, res.Total)
	return nil
}

func commandAnalytics(args []string) error {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	since := fs.Duration("since", 24*time.Hour, "Window length ending now")
	interval := fs.String("interval", "hour", "Bucket interval (minute|hour|day)")
	fs.Parse(args)

	client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	end := time.Now()
	res, err := client.Analytics(ctx, end.Add(-*since), end, *interval)
	if err != nil {
		return err
	}
	printAnalytics(res)
	return nil
}

func commandUsage(args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	days := fs.Int("days", 30, "Trailing days, today included")
	fs.Parse(args)

	client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := client.Usage(ctx, *days)
	if err != nil {
		return err
	}
	printAnalytics(res.Analytics)
	fmt.Printf("growth\t%.2f%%\n", res.GrowthRate)
	return nil
}

func commandFunnel(args []string) error {
	fs := flag.NewFlagSet("funnel", flag.ExitOnError)
	steps := fs.String("steps", "", "Comma separated event types")
	since := fs.Duration("since", 7*24*time.Hour, "Window length ending now")
	fs.Parse(args)

	if strings.TrimSpace(*steps) == "" {
		return errors.New("--steps is required")
	}
	client, err := clientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	end := time.Now()
	res, err := client.Funnel(ctx, strings.Split(*steps, ","), end.Add(-*since), end)
	if err != nil {
		return err
	}
	for _, step := range res.Steps {
		fmt.Printf("%d\t%s\t%d\t%.2f%%\n", step.Step, step.Event, step.Count, step.ConversionRate)
	}
	return nil
}

func printAnalytics(res analytics.Analytics) {
	fmt.Printf("events\t%d\nusers\t%d\n", res.TotalEvents, res.UniqueUsers)
	for _, point := range res.EventsOverTime {
		fmt.Printf("%s\t%d\n", point.Timestamp.Format(time.RFC3339), point.Count)
	}
	for _, top := range res.TopEvents {
		fmt.Printf("top\t%s\t%d\n", top.Event, top.Count)
	}
}

func clientFromConfig() (*analytics.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if key := strings.TrimSpace(os.Getenv("TALLY_API_KEY")); key != "" {
		cfg.APIKey = key
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("please login first using 'tally login'")
	}
	return analytics.New(cfg.APIBaseURL, cfg.APIKey, analytics.WithSnappy())
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "tally", "config.json"), nil
}

func printUsage() {
	fmt.Printf("tally CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	tally login [--key tk_...] [--api http://localhost:4000]
	tally track --type <event> [--user id] [--session id] [--props '{"plan":"pro"}']
	tally events [--type event] [--user id] [--since 1h] [--limit N] [--recent]
	tally analytics [--since 24h] [--interval minute|hour|day]
	tally usage [--days 30]
	tally funnel --steps view,signup,purchase [--since 168h]
	tally version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
